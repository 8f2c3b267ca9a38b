package hub

import "github.com/you/chatdeck/internal/core"

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring struct {
	buf  []core.ChatMessage
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]core.ChatMessage, capacity)}
}

func (r *ring) capacity() int { return len(r.buf) }

func (r *ring) push(m core.ChatMessage) {
	if r.size == len(r.buf) {
		r.buf[r.head] = m
		r.head = (r.head + 1) % len(r.buf)
		return
	}
	r.buf[(r.head+r.size)%len(r.buf)] = m
	r.size++
}

// last returns the newest n entries, oldest first.
func (r *ring) last(n int) []core.ChatMessage {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]core.ChatMessage, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return out
}

// resize keeps the newest entries that fit into the new capacity.
func (r *ring) resize(capacity int) {
	if capacity == len(r.buf) {
		return
	}
	kept := r.last(min(r.size, capacity))
	r.buf = make([]core.ChatMessage, capacity)
	r.head = 0
	r.size = copy(r.buf, kept)
}
