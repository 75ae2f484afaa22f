package retry

import (
	"sync"
	"time"

	"github.com/aristath/relay/internal/errs"
)

// Stats accumulates retry engine counters. Safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	operations    int64
	successes     int64
	failures      int64
	totalAttempts int64
	totalWait     time.Duration

	attemptsHistogram map[int]int64       // attempts-per-operation -> count
	failuresByKind    map[errs.Kind]int64 // terminal failures by error kind
}

// NewStats creates an empty stats collector.
func NewStats() *Stats {
	return &Stats{
		attemptsHistogram: make(map[int]int64),
		failuresByKind:    make(map[errs.Kind]int64),
	}
}

func (s *Stats) recordSuccess(attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations++
	s.successes++
	s.totalAttempts += int64(attempts)
	s.attemptsHistogram[attempts]++
}

func (s *Stats) recordFailure(attempts int, kind errs.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations++
	s.failures++
	s.totalAttempts += int64(attempts)
	s.attemptsHistogram[attempts]++
	s.failuresByKind[kind]++
}

func (s *Stats) recordWait(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalWait += d
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Operations        int64               `json:"operations"`
	Successes         int64               `json:"successes"`
	Failures          int64               `json:"failures"`
	TotalAttempts     int64               `json:"total_attempts"`
	TotalWait         time.Duration       `json:"total_wait"`
	AttemptsHistogram map[int]int64       `json:"attempts_histogram"`
	FailuresByKind    map[errs.Kind]int64 `json:"failures_by_kind"`
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make(map[int]int64, len(s.attemptsHistogram))
	for k, v := range s.attemptsHistogram {
		hist[k] = v
	}
	byKind := make(map[errs.Kind]int64, len(s.failuresByKind))
	for k, v := range s.failuresByKind {
		byKind[k] = v
	}
	return Snapshot{
		Operations:        s.operations,
		Successes:         s.successes,
		Failures:          s.failures,
		TotalAttempts:     s.totalAttempts,
		TotalWait:         s.totalWait,
		AttemptsHistogram: hist,
		FailuresByKind:    byKind,
	}
}
