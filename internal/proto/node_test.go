package proto

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeRejectsMissingTag(t *testing.T) {
	if _, err := Decode([]byte(`{"attrs":{"a":"b"}}`)); !errors.Is(err, ErrEmptyTag) {
		t.Fatalf("expected ErrEmptyTag, got %v", err)
	}
	if _, err := Decode([]byte(`{"tag":"x","children":[{"attrs":{}}]}`)); !errors.Is(err, ErrEmptyTag) {
		t.Fatalf("expected ErrEmptyTag for child, got %v", err)
	}
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	var b strings.Builder
	for i := 0; i <= MaxDepth+1; i++ {
		b.WriteString(`{"tag":"n","children":[`)
	}
	b.WriteString(`{"tag":"leaf"}`)
	for i := 0; i <= MaxDepth+1; i++ {
		b.WriteString(`]}`)
	}
	if _, err := Decode([]byte(b.String())); !errors.Is(err, ErrTooDeep) {
		t.Fatalf("expected ErrTooDeep, got %v", err)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"tag":`)); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := NewNode("side").Set("team", "1").AddChild(NewNode("unit").Set("hp", "10"))
	cp := orig.Clone()
	cp.Set("team", "2")
	cp.Children[0].Set("hp", "5")

	if orig.Attr("team") != "1" || orig.Children[0].Attr("hp") != "10" {
		t.Fatalf("clone shares state with original: %+v", orig)
	}
}

func TestAttrHelpers(t *testing.T) {
	n := NewNode("join").SetInt("id", 7).SetBool("observe", true)
	if id, ok := n.Int("id"); !ok || id != 7 {
		t.Fatalf("unexpected id %d %v", id, ok)
	}
	if !n.Bool("observe") {
		t.Fatalf("expected observe to be true")
	}
	if _, ok := n.Int("missing"); ok {
		t.Fatalf("missing attribute must not parse")
	}
	var nilNode *Node
	if nilNode.Attr("x") != "" || nilNode.Child("x") != nil {
		t.Fatalf("nil node helpers must be safe")
	}
}

func TestPasswordRequestFlags(t *testing.T) {
	n := PasswordRequest("wrong_password", "bad", "alice", true, true)
	if n.Attr("password_request") != "yes" || n.Attr("wrong_password") != "yes" || n.Attr("force_confirmation") != "yes" {
		t.Fatalf("unexpected password request: %+v", n.Attrs)
	}
	n = PasswordRequest("password_required", "need", "alice", false, false)
	if n.Attr("wrong_password") != "no" || n.Attr("force_confirmation") != "" {
		t.Fatalf("unexpected password request: %+v", n.Attrs)
	}
}

func TestEncodeDecodeKeepsPayload(t *testing.T) {
	payload := NewNode("turn").AddChild(NewNode("move").Set("x", "3").Set("y", "4"))
	data, err := Encode(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Child("move").Attr("y") != "4" {
		t.Fatalf("payload lost: %+v", got)
	}
}
