package notable

import (
	"container/heap"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

type rankedEntry struct {
	model.NotableEntry
	index int
}

// ranking is a capacity-bounded min-heap keyed by (value, timestamp).
// The weakest entry sits at the root: smallest value, and among equal
// values the latest timestamp, so earlier arrivals win ties.
type ranking struct {
	metric   model.NotableMetric
	capacity int
	entries  []*rankedEntry
	members  map[model.Hash]*rankedEntry
}

func newRanking(metric model.NotableMetric, capacity int) *ranking {
	return &ranking{
		metric:   metric,
		capacity: capacity,
		members:  make(map[model.Hash]*rankedEntry, capacity),
	}
}

func (r *ranking) Len() int { return len(r.entries) }

func (r *ranking) Less(i, j int) bool {
	if r.entries[i].Value != r.entries[j].Value {
		return r.entries[i].Value < r.entries[j].Value
	}
	return r.entries[i].Timestamp > r.entries[j].Timestamp
}

func (r *ranking) Swap(i, j int) {
	r.entries[i], r.entries[j] = r.entries[j], r.entries[i]
	r.entries[i].index = i
	r.entries[j].index = j
}

func (r *ranking) Push(x any) {
	e := x.(*rankedEntry)
	e.index = len(r.entries)
	r.entries = append(r.entries, e)
}

func (r *ranking) Pop() any {
	old := r.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	r.entries = old[:n-1]
	return e
}

func (r *ranking) contains(id model.Hash) bool {
	_, ok := r.members[id]
	return ok
}

// outranks reports whether a candidate beats the current weakest entry.
func (r *ranking) outranks(value, timestamp uint64) bool {
	weakest := r.entries[0]
	if value != weakest.Value {
		return value > weakest.Value
	}
	return timestamp < weakest.Timestamp
}

// consider offers an entry to the ranking. It returns whether the entry
// was admitted and, when admission displaced a weaker member, the
// displaced transaction id. Re-offering a tracked transaction is a no-op.
func (r *ranking) consider(e model.NotableEntry) (admitted bool, displaced *model.Hash) {
	if r.contains(e.TxID) {
		return false, nil
	}
	re := &rankedEntry{NotableEntry: e}
	if len(r.entries) < r.capacity {
		heap.Push(r, re)
		r.members[e.TxID] = re
		return true, nil
	}
	if !r.outranks(e.Value, e.Timestamp) {
		return false, nil
	}
	out := heap.Pop(r).(*rankedEntry)
	delete(r.members, out.TxID)
	heap.Push(r, re)
	r.members[e.TxID] = re
	return true, &out.TxID
}

// remove drops a transaction from the ranking if present.
func (r *ranking) remove(id model.Hash) bool {
	e, ok := r.members[id]
	if !ok {
		return false
	}
	heap.Remove(r, e.index)
	delete(r.members, id)
	return true
}

// snapshot returns the current members unsorted.
func (r *ranking) snapshot() []model.NotableEntry {
	out := make([]model.NotableEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.NotableEntry)
	}
	return out
}
