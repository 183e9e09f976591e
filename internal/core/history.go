package core

import "github.com/vovakirdan/roomchat-server/internal/proto"

// History is a fixed-capacity FIFO of messages; the oldest entry is evicted
// once it is full. It is not safe for concurrent use, Room guards it.
type History struct {
	buf   []proto.Message
	start int
	size  int
}

// NewHistory returns an empty history holding at most capacity messages.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]proto.Message, capacity)}
}

// Append stores a copy of m.
func (h *History) Append(m *proto.Message) {
	entry := *m.Clone()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = entry
		h.size++
		return
	}
	h.buf[h.start] = entry
	h.start = (h.start + 1) % len(h.buf)
}

// Messages returns the stored messages in arrival order.
func (h *History) Messages() []proto.Message {
	out := make([]proto.Message, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, *h.buf[(h.start+i)%len(h.buf)].Clone())
	}
	return out
}

func (h *History) Len() int { return h.size }

func (h *History) Cap() int { return len(h.buf) }
