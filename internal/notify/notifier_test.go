package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

type fakeSender struct {
	name string
	err  error
	got  []Message
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.got = append(f.got, msg)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventSale, " "}, discard())

	require.NoError(t, n.Notify(context.Background(), Message{Event: EventSale, Title: "t"}))
	require.NoError(t, n.Notify(context.Background(), Message{Event: EventSweepFailed, Title: "t"}))
	assert.Len(t, s.got, 1)
	assert.False(t, n.Enabled(EventOfferAccept))

	all := NewNotifier([]Sender{s}, nil, discard())
	assert.True(t, all.Enabled(EventSweepFailed))
	assert.False(t, NewNotifier(nil, nil, discard()).Enabled(EventSale))
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), Message{Event: EventSale})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.got, 1)
}

func TestSaleMessage(t *testing.T) {
	sale := domain.Sale{
		Source:    domain.SaleSourceOffer,
		Asset:     domain.AssetRef{Collection: "0xabc", TokenID: "1", Name: "Punk #1"},
		SalePrice: domain.MustAmount("100"), Currency: "ETH",
		Seller: "0x1111111111111111111111111111111111111111",
		Buyer:  "0x2222222222222222222222222222222222222222",
	}
	msg := SaleMessage(sale)
	assert.Equal(t, EventOfferAccept, msg.Event)
	assert.Equal(t, "Offer accepted: Punk #1", msg.Title)
	assert.Contains(t, msg.Body, "100 ETH")

	sale.Source = domain.SaleSourceBuyNow
	assert.Equal(t, EventSale, SaleMessage(sale).Event)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), Message{Title: "a<b", Body: "x&y"}))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "<b>a&lt;b</b>\nx&amp;y", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Message{Event: EventSale, Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
