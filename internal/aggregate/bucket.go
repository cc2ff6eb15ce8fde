// Package aggregate maintains per-minute activity rollups for protocols
// and addresses. Buckets close when the event-time watermark passes their
// minute boundary, are flushed at least once, and are evicted after the
// in-memory retention tail.
package aggregate

import (
	"sort"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

type bucketState struct {
	bucket  model.ActivityBucket
	flushed bool
}

// bucketSet is the minute-bucket mechanism shared by both aggregators.
// Callers hold their own lock; bucketSet is not safe for concurrent use.
type bucketSet struct {
	buckets  map[model.BucketKey]*bucketState
	latestMs uint64 // event-time watermark
}

func newBucketSet() bucketSet {
	return bucketSet{buckets: make(map[model.BucketKey]*bucketState)}
}

func (s *bucketSet) record(dimension string, eventMs, count, sum uint64) {
	if eventMs > s.latestMs {
		s.latestMs = eventMs
	}
	key := model.BucketKey{MinuteUnixMs: model.MinuteBucket(eventMs), Dimension: dimension}
	st, ok := s.buckets[key]
	if !ok {
		st = &bucketState{bucket: model.ActivityBucket{Key: key}}
		s.buckets[key] = st
	}
	st.bucket.TxCount += count
	st.bucket.Sum += sum
	// A re-flush of a bucket that gained events overwrites the durable row.
	st.flushed = false
}

// revert undoes a contribution from a bucket that has not been flushed
// yet. Flushed buckets keep their durable value; the drift is accepted.
func (s *bucketSet) revert(dimension string, eventMs, count, sum uint64) bool {
	key := model.BucketKey{MinuteUnixMs: model.MinuteBucket(eventMs), Dimension: dimension}
	st, ok := s.buckets[key]
	if !ok || st.flushed {
		return false
	}
	if st.bucket.TxCount < count {
		count = st.bucket.TxCount
	}
	if st.bucket.Sum < sum {
		sum = st.bucket.Sum
	}
	st.bucket.TxCount -= count
	st.bucket.Sum -= sum
	if st.bucket.TxCount == 0 && st.bucket.Sum == 0 {
		delete(s.buckets, key)
	}
	return true
}

// closedUnflushed copies out every bucket whose minute lies fully behind
// the watermark and that has unflushed contributions, oldest first.
func (s *bucketSet) closedUnflushed() []model.ActivityBucket {
	boundary := model.MinuteBucket(s.latestMs)
	var out []model.ActivityBucket
	for key, st := range s.buckets {
		if st.flushed || key.MinuteUnixMs >= boundary {
			continue
		}
		out = append(out, st.bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.MinuteUnixMs != out[j].Key.MinuteUnixMs {
			return out[i].Key.MinuteUnixMs < out[j].Key.MinuteUnixMs
		}
		return out[i].Key.Dimension < out[j].Key.Dimension
	})
	return out
}

// markFlushed marks the buckets of a persisted snapshot clean. A bucket
// that gained contributions since the snapshot was taken stays dirty so
// the next flush overwrites the durable row.
func (s *bucketSet) markFlushed(flushed []model.ActivityBucket) {
	for _, b := range flushed {
		st, ok := s.buckets[b.Key]
		if !ok || st.bucket.TxCount != b.TxCount || st.bucket.Sum != b.Sum {
			continue
		}
		st.flushed = true
	}
}

// evictFlushedBefore drops flushed buckets older than the retention tail
// and returns how many were removed.
func (s *bucketSet) evictFlushedBefore(cutoffMs uint64) int {
	evicted := 0
	for key, st := range s.buckets {
		if st.flushed && key.MinuteUnixMs < cutoffMs {
			delete(s.buckets, key)
			evicted++
		}
	}
	return evicted
}

// since copies out all buckets, open ones included, at or after a minute.
func (s *bucketSet) since(minuteMs uint64) []model.ActivityBucket {
	var out []model.ActivityBucket
	for key, st := range s.buckets {
		if key.MinuteUnixMs >= minuteMs {
			out = append(out, st.bucket)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.MinuteUnixMs != out[j].Key.MinuteUnixMs {
			return out[i].Key.MinuteUnixMs < out[j].Key.MinuteUnixMs
		}
		return out[i].Key.Dimension < out[j].Key.Dimension
	})
	return out
}

func (s *bucketSet) size() int { return len(s.buckets) }
