package flusher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dagpulse/dagpulse-backend/internal/aggregate"
	"github.com/dagpulse/dagpulse-backend/internal/model"
	"github.com/dagpulse/dagpulse-backend/internal/notable"
)

type fakeRepository struct {
	mu sync.Mutex

	notableRows   []model.NotableTransaction
	deletedIDs    []model.Hash
	protocolRows  []model.ActivityBucket
	addressRows   []model.ActivityBucket
	pruneCutoffs  []time.Time
	loadRows      []model.NotableTransaction
	upsertErrors  int
	upsertAttempt int
}

func (f *fakeRepository) UpsertNotableTransactions(_ context.Context, rows []model.NotableTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertAttempt++
	if f.upsertErrors > 0 {
		f.upsertErrors--
		return errors.New("clickhouse unavailable")
	}
	f.notableRows = append(f.notableRows, rows...)
	return nil
}

func (f *fakeRepository) DeleteNotableTransactions(_ context.Context, ids []model.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, ids...)
	return nil
}

func (f *fakeRepository) UpsertProtocolActivity(_ context.Context, buckets []model.ActivityBucket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.protocolRows = append(f.protocolRows, buckets...)
	return nil
}

func (f *fakeRepository) UpsertAddressActivity(_ context.Context, buckets []model.ActivityBucket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addressRows = append(f.addressRows, buckets...)
	return nil
}

func (f *fakeRepository) PruneActivity(_ context.Context, cutoff time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCutoffs = append(f.pruneCutoffs, cutoff)
	return nil
}

func (f *fakeRepository) LoadNotableTransactions(context.Context) ([]model.NotableTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadRows, nil
}

type fakeMetrics struct {
	mu   sync.Mutex
	runs []error
	rows map[string]int
}

func (f *fakeMetrics) ObserveRun(err error, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, err)
}

func (f *fakeMetrics) ObserveFlushedRows(table string, rows int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = make(map[string]int)
	}
	f.rows[table] += rows
}

func (f *fakeMetrics) ObservePrune(error) {}

type fixture struct {
	service   *Service
	repo      *fakeRepository
	metrics   *fakeMetrics
	notables  *notable.Tracker
	protocols *aggregate.Protocol
	addresses *aggregate.Address
}

func newFixture(repo *fakeRepository) *fixture {
	logger := zap.NewNop()
	notables := notable.New(logger, 10)
	protocols := aggregate.NewProtocol()
	addresses := aggregate.NewAddress(logger, 10, time.Hour)
	metrics := &fakeMetrics{}
	service := NewService(logger, repo, notables, protocols, addresses, metrics, Config{
		FlushPeriod: time.Second,
		MemoryTail:  time.Hour,
	})
	service.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, flushRetries)
	}
	return &fixture{
		service:   service,
		repo:      repo,
		metrics:   metrics,
		notables:  notables,
		protocols: protocols,
		addresses: addresses,
	}
}

func feeTx(n byte, fee, amount, blockTime uint64) *model.TransactionRecord {
	f := fee
	var id model.Hash
	id[31] = n
	return &model.TransactionRecord{
		ID:           id,
		BlockTime:    blockTime,
		Fee:          &f,
		OutputAmount: amount,
		Protocol:     model.ProtocolNative,
		Outputs:      []model.TransactionOutput{{Amount: amount, Address: "kaspa:qq"}},
	}
}

func TestService_FlushPersistsDeltasAndClosedBuckets(t *testing.T) {
	fx := newFixture(&fakeRepository{})

	base := uint64(6_000_000)
	fx.notables.Consider(feeTx(1, 100, 1_000, base))
	fx.protocols.Record(feeTx(1, 100, 1_000, base))
	fx.addresses.Record(feeTx(1, 100, 1_000, base))
	// Advance the watermark so the first minute closes.
	fx.protocols.Record(feeTx(2, 1, 1, base+60_000))
	fx.addresses.Record(feeTx(2, 1, 1, base+60_000))

	fx.service.Flush(context.Background())

	require.Len(t, fx.repo.notableRows, 1)
	require.Len(t, fx.repo.protocolRows, 1)
	assert.Equal(t, uint64(100), fx.repo.protocolRows[0].Sum)
	require.Len(t, fx.repo.addressRows, 1)

	require.Len(t, fx.metrics.runs, 1)
	assert.NoError(t, fx.metrics.runs[0])

	// A second flush with no new activity writes nothing.
	fx.service.Flush(context.Background())
	assert.Len(t, fx.repo.notableRows, 1)
	assert.Len(t, fx.repo.protocolRows, 1)
}

func TestService_FlushBatchesRankingDeletes(t *testing.T) {
	repo := &fakeRepository{}
	fx := newFixture(repo)

	// Fill both rankings past capacity so the lowest transaction is
	// displaced from both and earns a durable delete.
	for i := byte(1); i <= 11; i++ {
		fx.notables.Consider(feeTx(i, uint64(i)*10, uint64(i), 6_000_000))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.service.deletes.Start(ctx)

	fx.service.Flush(context.Background())

	// Deletes reach the store through the batcher, which Stop drains.
	fx.service.deletes.Stop()

	require.Len(t, repo.deletedIDs, 1)
	assert.Equal(t, model.Hash{31: 1}, repo.deletedIDs[0])
}

func TestService_FlushRetriesAndKeepsStateOnFailure(t *testing.T) {
	repo := &fakeRepository{upsertErrors: 2}
	fx := newFixture(repo)

	fx.notables.Consider(feeTx(1, 100, 1_000, 6_000_000))

	// Two failed attempts are retried inside one cycle and the third
	// succeeds, with the drained batch restored in between.
	fx.service.Flush(context.Background())

	assert.Equal(t, 3, repo.upsertAttempt)
	require.Len(t, repo.notableRows, 1)
	require.Len(t, fx.metrics.runs, 1)
	assert.NoError(t, fx.metrics.runs[0])

	_, _, upserts, _ := fx.notables.Sizes()
	assert.Equal(t, 0, upserts)
}

func TestService_FlushExhaustedRetriesSurfaceError(t *testing.T) {
	repo := &fakeRepository{upsertErrors: flushRetries + 1}
	fx := newFixture(repo)

	fx.notables.Consider(feeTx(1, 100, 1_000, 6_000_000))
	fx.service.Flush(context.Background())

	require.Len(t, fx.metrics.runs, 1)
	assert.Error(t, fx.metrics.runs[0])

	// The batch stays pending for the next cycle.
	_, _, upserts, _ := fx.notables.Sizes()
	assert.Equal(t, 1, upserts)
}

func TestService_PruneUsesRetentionCutoff(t *testing.T) {
	repo := &fakeRepository{}
	fx := newFixture(repo)
	fx.service.cfg.Retention = 10 * 24 * time.Hour

	before := time.Now().Add(-fx.service.cfg.Retention)
	fx.service.Prune(context.Background())

	require.Len(t, repo.pruneCutoffs, 1)
	assert.WithinDuration(t, before, repo.pruneCutoffs[0], time.Minute)
}

func TestService_WarmStartSeedsRankings(t *testing.T) {
	fee := uint64(50)
	repo := &fakeRepository{loadRows: []model.NotableTransaction{
		{TxID: model.Hash{31: 1}, Fee: &fee, Amount: 500, Timestamp: 1_000},
	}}
	fx := newFixture(repo)

	require.NoError(t, fx.service.WarmStart(context.Background()))

	feeLen, amountLen, upserts, _ := fx.notables.Sizes()
	assert.Equal(t, 1, feeLen)
	assert.Equal(t, 1, amountLen)
	assert.Equal(t, 0, upserts)
}
