package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/config"
	"github.com/alanyoungcy/assetmarket/internal/domain"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	cfg.Sweeper.Enabled = false
	return &cfg
}

func TestWireInMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, cleanup, err := Wire(ctx, testConfig(), logger)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Market)
	assert.NotNil(t, deps.Executor)
	assert.NotNil(t, deps.SignalBus)
	assert.NotNil(t, deps.RateLimiter)
	assert.Nil(t, deps.SaleJournal)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Pingers)

	go func() { _ = deps.Executor.Run(ctx) }()

	const (
		seller = "0x1111111111111111111111111111111111111111"
		buyer  = "0x2222222222222222222222222222222222222222"
	)
	l, err := deps.Market.CreateListing(ctx, domain.CreateListingParams{
		Type:     domain.ListingTypeFixed,
		Asset:    domain.AssetRef{Collection: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", TokenID: "1"},
		Seller:   seller,
		Currency: "ETH",
		Price:    domain.MustAmount("2"),
	})
	require.NoError(t, err)

	sale, err := deps.Market.BuyNow(ctx, l.ID, buyer)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, st, err := deps.Market.GetSale(ctx, sale.ID)
		return err == nil && st != nil && st.TxRef != ""
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWireSettlementDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Settlement.Enabled = false

	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, deps.Executor)
}

func TestWireBadOperatorKey(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.PrivateKey = "not-hex"

	_, _, err := Wire(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: chain")
}

func TestRunUnsupportedMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "scrape"

	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestServerModeStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = config.ModeServer

	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server mode did not stop")
	}
}
