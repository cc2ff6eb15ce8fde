package aggregate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

const minuteMs = 60_000

func protoTx(protocol model.Protocol, blockTime, fee uint64) *model.TransactionRecord {
	f := fee
	return &model.TransactionRecord{
		Protocol:  protocol,
		BlockTime: blockTime,
		Fee:       &f,
	}
}

func addrTx(blockTime uint64, address string, amount uint64) *model.TransactionRecord {
	return &model.TransactionRecord{
		BlockTime: blockTime,
		Outputs:   []model.TransactionOutput{{Amount: amount, Address: address}},
	}
}

func TestProtocol_SameMinuteMergesIntoOneBucket(t *testing.T) {
	p := NewProtocol()

	base := uint64(100 * minuteMs)
	p.Record(protoTx(model.ProtocolKRC, base+1_000, 5))
	p.Record(protoTx(model.ProtocolKRC, base+42_000, 7))
	p.Record(protoTx(model.ProtocolKasia, base+2_000, 1))

	buckets := p.ActivitySince(0)
	require.Len(t, buckets, 2)

	var krc model.ActivityBucket
	for _, b := range buckets {
		if b.Key.Dimension == string(model.ProtocolKRC) {
			krc = b
		}
	}
	assert.Equal(t, base, krc.Key.MinuteUnixMs)
	assert.Equal(t, uint64(2), krc.TxCount)
	assert.Equal(t, uint64(12), krc.Sum)
}

func TestProtocol_BucketClosesWhenWatermarkPassesBoundary(t *testing.T) {
	p := NewProtocol()

	base := uint64(100 * minuteMs)
	p.Record(protoTx(model.ProtocolNative, base+10_000, 1))
	assert.Empty(t, p.ClosedUnflushed(), "open minute must not flush")

	p.Record(protoTx(model.ProtocolNative, base+minuteMs, 1))
	closed := p.ClosedUnflushed()
	require.Len(t, closed, 1)
	assert.Equal(t, base, closed[0].Key.MinuteUnixMs)
}

func TestProtocol_ReflushAfterLateContribution(t *testing.T) {
	p := NewProtocol()

	base := uint64(100 * minuteMs)
	p.Record(protoTx(model.ProtocolNative, base, 1))
	p.Record(protoTx(model.ProtocolNative, base+minuteMs, 1))

	closed := p.ClosedUnflushed()
	require.Len(t, closed, 1)
	p.MarkFlushed(closed[:1])
	assert.Empty(t, p.ClosedUnflushed())

	// A straggler for the flushed minute reopens it for one more flush.
	p.Record(protoTx(model.ProtocolNative, base+30_000, 1))
	closed = p.ClosedUnflushed()
	require.Len(t, closed, 1)
	assert.Equal(t, uint64(2), closed[0].TxCount)
}

func TestProtocol_ContributionDuringFlushKeepsBucketDirty(t *testing.T) {
	p := NewProtocol()

	base := uint64(100 * minuteMs)
	p.Record(protoTx(model.ProtocolNative, base, 1))
	p.Record(protoTx(model.ProtocolNative, base+minuteMs, 1))

	// A straggler lands between the snapshot and the mark, as it would
	// while the upsert is in flight.
	closed := p.ClosedUnflushed()
	require.Len(t, closed, 1)
	p.Record(protoTx(model.ProtocolNative, base+30_000, 1))
	p.MarkFlushed(closed)

	closed = p.ClosedUnflushed()
	require.Len(t, closed, 1, "bucket changed since the snapshot, it must flush again")
	assert.Equal(t, uint64(2), closed[0].TxCount)

	evicted := p.EvictFlushedBefore(base + minuteMs)
	assert.Zero(t, evicted, "dirty bucket must not be evicted")
}

func TestProtocol_EvictionKeepsUnflushedBuckets(t *testing.T) {
	p := NewProtocol()

	base := uint64(100 * minuteMs)
	p.Record(protoTx(model.ProtocolNative, base, 1))
	p.Record(protoTx(model.ProtocolKRC, base+minuteMs, 1))
	p.Record(protoTx(model.ProtocolKNS, base+2*minuteMs, 1))

	closed := p.ClosedUnflushed()
	require.Len(t, closed, 2)
	p.MarkFlushed(closed[:1])

	evicted := p.EvictFlushedBefore(base + 2*minuteMs)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 2, p.Size())
}

func TestProtocol_RevertOnlyTouchesUnflushedBuckets(t *testing.T) {
	p := NewProtocol()

	base := uint64(100 * minuteMs)
	tx := protoTx(model.ProtocolKasplex, base, 9)
	p.Record(tx)
	p.Record(protoTx(model.ProtocolKasplex, base, 3))
	p.Revert(tx)

	buckets := p.ActivitySince(0)
	require.Len(t, buckets, 1)
	assert.Equal(t, uint64(1), buckets[0].TxCount)
	assert.Equal(t, uint64(3), buckets[0].Sum)

	// Reverting the last contribution drops the bucket entirely.
	p.Revert(protoTx(model.ProtocolKasplex, base, 3))
	assert.Empty(t, p.ActivitySince(0))

	// A flushed bucket keeps its durable value; the drift is accepted.
	p.Record(protoTx(model.ProtocolNative, base, 2))
	p.Record(protoTx(model.ProtocolNative, base+minuteMs, 1))
	closed := p.ClosedUnflushed()
	require.Len(t, closed, 1)
	p.MarkFlushed(closed[:1])
	p.Revert(protoTx(model.ProtocolNative, base, 2))
	buckets = p.ActivitySince(base)
	require.NotEmpty(t, buckets)
	assert.Equal(t, uint64(1), buckets[0].TxCount)
}

func TestAddress_AdmissionBoundedUntilRerank(t *testing.T) {
	a := NewAddress(zap.NewNop(), 2, time.Hour)
	base := uint64(100 * minuteMs)

	a.Record(addrTx(base, "kaspa:qa", 10))
	a.Record(addrTx(base, "kaspa:qb", 20))
	// Capacity reached: qc feeds the window but earns no bucket yet.
	a.Record(addrTx(base, "kaspa:qc", 30))
	a.Record(addrTx(base, "kaspa:qc", 30))
	a.Record(addrTx(base, "kaspa:qc", 30))

	buckets := a.ActivitySince(0)
	require.Len(t, buckets, 2)
	for _, b := range buckets {
		assert.NotEqual(t, "kaspa:qc", b.Key.Dimension)
	}

	// Re-ranking admits qc on window count, demoting the weakest seat.
	a.Rerank(time.UnixMilli(int64(base + minuteMs)))
	_, _, admitted := a.Sizes()
	assert.Equal(t, 2, admitted)

	a.Record(addrTx(base+minuteMs, "kaspa:qc", 5))
	buckets = a.ActivitySince(base + minuteMs)
	require.Len(t, buckets, 1)
	assert.Equal(t, "kaspa:qc", buckets[0].Key.Dimension)
}

func TestAddress_WindowPrunesBeyondHorizon(t *testing.T) {
	a := NewAddress(zap.NewNop(), 1, time.Hour)
	base := uint64(1000 * minuteMs)

	for i := uint64(0); i < 5; i++ {
		a.Record(addrTx(base+i*1_000, "kaspa:old", 1))
	}
	a.Record(addrTx(base+90*minuteMs, "kaspa:new", 1))

	// Inside the horizon the old address keeps its seat on count.
	a.Rerank(time.UnixMilli(int64(base + 30*minuteMs)))
	_, candidates, _ := a.Sizes()
	assert.Equal(t, 2, candidates)

	// Past the horizon its window empties and the newer address wins.
	a.Rerank(time.UnixMilli(int64(base + 120*minuteMs)))
	_, candidates, admitted := a.Sizes()
	assert.Equal(t, 1, candidates)
	assert.Equal(t, 1, admitted)

	a.Record(addrTx(base+121*minuteMs, "kaspa:new", 1))
	buckets := a.ActivitySince(base + 121*minuteMs)
	require.Len(t, buckets, 1)
	assert.Equal(t, "kaspa:new", buckets[0].Key.Dimension)
}

func TestAddress_SpendingAndReceivingBothCount(t *testing.T) {
	a := NewAddress(zap.NewNop(), 10, time.Hour)
	base := uint64(100 * minuteMs)

	spent := uint64(1_000)
	tx := &model.TransactionRecord{
		BlockTime: base,
		Inputs: []model.TransactionInput{
			{Address: "kaspa:sender", SpentAmount: &spent},
		},
		Outputs: []model.TransactionOutput{
			{Amount: 400, Address: "kaspa:receiver"},
			{Amount: 590, Address: "kaspa:sender"},
		},
	}
	a.Record(tx)

	buckets := a.ActivitySince(0)
	require.Len(t, buckets, 2)
	byAddr := make(map[string]model.ActivityBucket)
	for _, b := range buckets {
		byAddr[b.Key.Dimension] = b
	}
	// The sender both spends and receives change in one transaction but
	// is counted once, with both legs summed.
	assert.Equal(t, uint64(1), byAddr["kaspa:sender"].TxCount)
	assert.Equal(t, uint64(1_590), byAddr["kaspa:sender"].Sum)
	assert.Equal(t, uint64(400), byAddr["kaspa:receiver"].Sum)
}

func TestAddress_RerankIsDeterministicOnTies(t *testing.T) {
	a := NewAddress(zap.NewNop(), 1, time.Hour)
	base := uint64(100 * minuteMs)

	for i := 0; i < 3; i++ {
		a.Record(addrTx(base, fmt.Sprintf("kaspa:q%d", i), 1))
	}
	a.Rerank(time.UnixMilli(int64(base + minuteMs)))

	a.Record(addrTx(base+minuteMs, "kaspa:q0", 1))
	a.Record(addrTx(base+minuteMs, "kaspa:q2", 1))
	buckets := a.ActivitySince(base + minuteMs)
	require.Len(t, buckets, 1)
	assert.Equal(t, "kaspa:q0", buckets[0].Key.Dimension)
}
