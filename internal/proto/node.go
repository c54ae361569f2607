package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// MaxDepth bounds how deeply inbound nodes may nest.
const MaxDepth = 32

var (
	// ErrEmptyTag is returned for a node without a tag.
	ErrEmptyTag = errors.New("node has no tag")
	// ErrTooDeep is returned when a node nests deeper than MaxDepth.
	ErrTooDeep = errors.New("node nesting too deep")
)

// Node is one element of a tagged message tree: a tag, named attributes and
// ordered children. Game traffic is relayed as Nodes without interpretation.
type Node struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

// NewNode returns an empty node with the given tag.
func NewNode(tag string) *Node {
	return &Node{Tag: tag}
}

// Set stores an attribute and returns the node for chaining.
func (n *Node) Set(key, value string) *Node {
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
	return n
}

// SetInt stores an integer attribute.
func (n *Node) SetInt(key string, value int) *Node {
	return n.Set(key, strconv.Itoa(value))
}

// SetBool stores "yes" or "no".
func (n *Node) SetBool(key string, value bool) *Node {
	if value {
		return n.Set(key, "yes")
	}
	return n.Set(key, "no")
}

// Attr returns the attribute value or "".
func (n *Node) Attr(key string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[key]
}

// Int parses an integer attribute. ok is false if it is missing or malformed.
func (n *Node) Int(key string) (int, bool) {
	v, err := strconv.Atoi(n.Attr(key))
	if err != nil {
		return 0, false
	}
	return v, true
}

// Bool reports whether an attribute is truthy ("yes", "true", "1").
func (n *Node) Bool(key string) bool {
	switch n.Attr(key) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}

// AddChild appends a child and returns the receiver.
func (n *Node) AddChild(child *Node) *Node {
	n.Children = append(n.Children, child)
	return n
}

// Child returns the first child with the given tag, or nil.
func (n *Node) Child(tag string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// ChildrenByTag returns every child with the given tag.
func (n *Node) ChildrenByTag(tag string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Tag: n.Tag}
	if n.Attrs != nil {
		out.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = v
		}
	}
	if n.Children != nil {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Validate checks tags are present and nesting is bounded.
func (n *Node) Validate() error {
	return n.validate(0)
}

func (n *Node) validate(depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}
	if n == nil || n.Tag == "" {
		return ErrEmptyTag
	}
	for _, c := range n.Children {
		if err := c.validate(depth + 1); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses one wire frame into a validated Node.
func Decode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	return &n, nil
}

// Encode serializes a Node into one wire frame.
func Encode(n *Node) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode node: %w", err)
	}
	return data, nil
}
