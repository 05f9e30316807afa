package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

type flakyTransferer struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	err      error
}

func (f *flakyTransferer) Transfer(_ context.Context, sale domain.Sale) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[sale.ID]++
	if f.err != nil {
		return "", f.err
	}
	if f.calls[sale.ID] <= f.failures {
		return "", errors.New("rpc unavailable")
	}
	return "0xtx-" + sale.ID, nil
}

type recordingSettler struct {
	mu       sync.Mutex
	attached map[string]string
	done     chan string
}

func (r *recordingSettler) AttachSettlement(_ context.Context, saleID, txRef string) (domain.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attached[saleID]; ok {
		return domain.Settlement{}, domain.NewStateError("attach_settlement", "sale %s already settled", saleID)
	}
	r.attached[saleID] = txRef
	r.done <- saleID
	return domain.Settlement{SaleID: saleID, TxRef: txRef}, nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) SettlementOutcome(outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes[outcome]++
	o.mu.Unlock()
}

func (o *countingObserver) count(outcome string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

func testConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      4,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		DedupTTL:       time.Minute,
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExecutorRetriesThenSettles(t *testing.T) {
	tr := &flakyTransferer{failures: 2, calls: map[string]int{}}
	st := &recordingSettler{attached: map[string]string{}, done: make(chan string, 4)}
	obs := &countingObserver{outcomes: map[string]int{}}
	e := NewExecutor(testConfig(), tr, st, discard()).WithObserver(obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	require.True(t, e.Enqueue(domain.Sale{ID: "s1"}))
	select {
	case id := <-st.done:
		assert.Equal(t, "s1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("sale was not settled")
	}
	assert.Equal(t, "0xtx-s1", st.attached["s1"])
	assert.Equal(t, 3, tr.calls["s1"])
	assert.Eventually(t, func() bool { return obs.count("settled") == 1 }, time.Second, 5*time.Millisecond)
}

func TestExecutorDeduplicates(t *testing.T) {
	tr := &flakyTransferer{calls: map[string]int{}}
	st := &recordingSettler{attached: map[string]string{}, done: make(chan string, 4)}
	obs := &countingObserver{outcomes: map[string]int{}}
	e := NewExecutor(testConfig(), tr, st, discard()).WithObserver(obs)

	assert.True(t, e.Enqueue(domain.Sale{ID: "s1"}))
	assert.False(t, e.Enqueue(domain.Sale{ID: "s1"}))
	assert.Equal(t, 1, e.Pending())
	assert.Equal(t, 1, obs.count("duplicate"))
}

func TestExecutorDropsWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	e := NewExecutor(cfg, &flakyTransferer{calls: map[string]int{}}, &recordingSettler{}, discard())

	assert.True(t, e.Enqueue(domain.Sale{ID: "a"}))
	assert.False(t, e.Enqueue(domain.Sale{ID: "b"}))
	// A dropped sale can be retried once there is room.
	<-e.queue
	assert.True(t, e.Enqueue(domain.Sale{ID: "b"}))
}

func TestExecutorPermanentFailure(t *testing.T) {
	tr := &flakyTransferer{calls: map[string]int{}, err: &PermanentError{Err: errors.New("bad address")}}
	st := &recordingSettler{attached: map[string]string{}, done: make(chan string, 1)}
	failed := make(chan string, 1)
	e := NewExecutor(testConfig(), tr, st, discard()).
		WithFailureHandler(func(_ context.Context, sale domain.Sale, _ error) { failed <- sale.ID })

	e.settle(context.Background(), domain.Sale{ID: "s1"})
	assert.Equal(t, "s1", <-failed)
	assert.Equal(t, 1, tr.calls["s1"])
	assert.Empty(t, st.attached)
}

func TestExecutorAlreadySettled(t *testing.T) {
	tr := &flakyTransferer{calls: map[string]int{}}
	st := &recordingSettler{attached: map[string]string{"s1": "0xold"}, done: make(chan string, 1)}
	obs := &countingObserver{outcomes: map[string]int{}}
	e := NewExecutor(testConfig(), tr, st, discard()).WithObserver(obs)

	e.settle(context.Background(), domain.Sale{ID: "s1"})
	assert.Equal(t, "0xold", st.attached["s1"])
	assert.Equal(t, 1, obs.count("duplicate"))
}

func TestDedupCleanup(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("k"))
	assert.True(t, d.IsDuplicate("k"))
	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Equal(t, 0, d.Len())
	assert.False(t, d.IsDuplicate("k"))
}
