package model

// BucketKey is the natural key of an activity bucket.
type BucketKey struct {
	MinuteUnixMs uint64
	// Dimension is a protocol id or an address, depending on the aggregator.
	Dimension string
}

// ActivityBucket accumulates per-minute counters for one dimension value.
// Buckets are append-only within their minute and frozen once the minute
// closes relative to the latest observed event time.
type ActivityBucket struct {
	Key     BucketKey
	TxCount uint64
	// Sum is total fees for protocol buckets, total spent amount for
	// address buckets.
	Sum uint64
}
