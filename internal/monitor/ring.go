package monitor

import "time"

// Point is one recorded metric observation.
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Context   map[string]string `json:"context,omitempty"`
}

// ring is a bounded append-only buffer of points. Oldest points are
// overwritten once the capacity is reached.
type ring struct {
	buf   []Point
	head  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Point, capacity)}
}

func (r *ring) push(p Point) {
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// len returns the number of stored points.
func (r *ring) len() int { return r.count }

// last returns up to n most recent points, oldest first.
func (r *ring) last(n int) []Point {
	if n > r.count {
		n = r.count
	}
	out := make([]Point, 0, n)
	start := r.head - n
	for i := 0; i < n; i++ {
		idx := start + i
		if idx < 0 {
			idx += len(r.buf)
		}
		out = append(out, r.buf[idx%len(r.buf)])
	}
	return out
}

// since returns all stored points at or after the cutoff, oldest first.
func (r *ring) since(cutoff time.Time) []Point {
	all := r.last(r.count)
	for i, p := range all {
		if !p.Timestamp.Before(cutoff) {
			return all[i:]
		}
	}
	return nil
}
