// Package metrics counts the write operations the reconciliation engine
// performs, per entity and operation. There is no exporter: the counters feed
// the end-of-run log summary and give tests a write-count probe, which is how
// no-op re-imports are verified.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Op is the kind of write being counted.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Recorder accumulates write counts. The zero value is not usable; use
// NewRecorder. Safe for concurrent use, though the reconciler itself is
// single-threaded per batch.
type Recorder struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[string]int64)}
}

// Add records n operations of kind op against the named entity.
func (r *Recorder) Add(entity string, op Op, n int) {
	if r == nil || n == 0 {
		return
	}
	r.mu.Lock()
	r.counts[entity+"/"+string(op)] += int64(n)
	r.mu.Unlock()
}

// Writes returns the total number of recorded operations of any kind.
func (r *Recorder) Writes() int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, v := range r.counts {
		total += v
	}
	return total
}

// Count returns the recorded count for one entity/op pair.
func (r *Recorder) Count(entity string, op Op) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[entity+"/"+string(op)]
}

// Reset clears all counters.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.counts = make(map[string]int64)
	r.mu.Unlock()
}

// Summary renders the counters as a stable, sorted one-line string for logs.
func (r *Recorder) Summary() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.counts))
	for k := range r.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, r.counts[k]))
	}
	return strings.Join(parts, " ")
}
