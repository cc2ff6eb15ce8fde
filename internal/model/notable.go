package model

// NotableMetric names the ranking a notable entry belongs to.
type NotableMetric string

var (
	// MetricFee ranks transactions by recomputed fee.
	MetricFee NotableMetric = "fee"
	// MetricAmount ranks transactions by total output amount.
	MetricAmount NotableMetric = "amount"
)

// NotableEntry is an immutable snapshot of a transaction at tracking time.
// Entries are displaced only by higher values, never by age.
type NotableEntry struct {
	TxID      Hash
	Metric    NotableMetric
	Value     uint64
	Timestamp uint64 // unix milliseconds of the containing block
	Protocol  Protocol
}

// NotableTransaction is the durable row for a transaction present in at
// least one ranking; keyed by transaction id. Fee is nil when unknown.
type NotableTransaction struct {
	TxID      Hash
	Fee       *uint64
	Amount    uint64
	Protocol  Protocol
	Timestamp uint64 // unix milliseconds
}
