package verification

// ring is a fixed-capacity log that evicts the oldest entry when full.
type ring struct {
	buf  []Entry
	next int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Entry, capacity)}
}

func (r *ring) push(e Entry) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// list returns the entries newest first.
func (r *ring) list() []Entry {
	out := make([]Entry, 0, r.size)
	for i := 1; i <= r.size; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}
