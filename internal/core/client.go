package core

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirelobby-server/internal/proto"
)

// DefaultClientBuffer is used when NewClient is given a non-positive buffer.
const DefaultClientBuffer = 64

// Client is one transport connection as seen by the core layer. The hub
// writes to Events; the transport drains it until Done is closed.
type Client struct {
	ID     string
	IP     string
	Events chan *proto.Node

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels. An empty id gets
// a random one.
func NewClient(id, ip string, buffer int) *Client {
	if id == "" {
		id = uuid.NewString()
	}
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Client{
		ID:     id,
		IP:     ip,
		Events: make(chan *proto.Node, buffer),
		done:   make(chan struct{}),
	}
}

// Done is closed once the hub (or the transport) gives up on the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the transport to flush pending events and hang up.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// send never blocks. It reports false when the buffer is full or the client
// is closed.
func (c *Client) send(n *proto.Node) bool {
	if c.closed() {
		return false
	}
	select {
	case c.Events <- n:
		return true
	default:
		return false
	}
}
