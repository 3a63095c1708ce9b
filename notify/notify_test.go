package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestParseChannels(t *testing.T) {
	got, err := ParseChannels([]string{"Email", "sms", "email", " whatsapp "})
	require.NoError(t, err)
	assert.Equal(t, []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}, got)

	_, err = ParseChannels([]string{"pigeon"})
	assert.Error(t, err)
}

func TestDispatcher_FailuresAreLoggedNotReturned(t *testing.T) {
	var logs syncBuffer
	d := NewDispatcher(slog.New(slog.NewTextHandler(&logs, nil)), time.Second)

	var (
		mu   sync.Mutex
		sent []Message
	)
	d.Register(ChannelEmail, SenderFunc(func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, msg)
		return nil
	}))
	d.Register(ChannelSMS, SenderFunc(func(context.Context, Message) error {
		return errors.New("gateway down")
	}))

	d.Dispatch(
		Message{Channel: ChannelEmail, To: "a@example.com", Body: "hi"},
		Message{Channel: ChannelSMS, To: "+1555", Body: "hi"},
		Message{Channel: ChannelWhatsApp, To: "+1555", Body: "hi"}, // no sender
		Message{Channel: ChannelEmail, Body: "no address"},
	)
	require.NoError(t, d.Wait(context.Background()))

	assert.Len(t, sent, 1)
	out := logs.String()
	assert.Contains(t, out, "gateway down")
	assert.Contains(t, out, "no sender for channel")
}

func TestDispatcher_WaitHonorsContext(t *testing.T) {
	d := NewDispatcher(slog.New(slog.NewTextHandler(&syncBuffer{}, nil)), time.Minute)
	release := make(chan struct{})
	d.Register(ChannelEmail, SenderFunc(func(context.Context, Message) error {
		<-release
		return nil
	}))
	d.Dispatch(Message{Channel: ChannelEmail, To: "a@example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, d.Wait(context.Background()))
}

func TestGatewaySender(t *testing.T) {
	var got gatewayPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got.To == "+0000" {
			http.Error(w, "unknown number", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewGatewaySender(srv.URL, "secret")
	err := g.Send(context.Background(), Message{Channel: ChannelSMS, To: "+351910000000", Body: "Invoice INV-2025-00001"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, gatewayPayload{Channel: ChannelSMS, To: "+351910000000", Text: "Invoice INV-2025-00001"}, got)

	err = g.Send(context.Background(), Message{Channel: ChannelSMS, To: "+0000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown number")
}

func TestInvoiceMessages(t *testing.T) {
	due := time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)
	inv := &model.Invoice{
		InvoiceNumber: "INV-2025-00007",
		Total:         decimal.RequireFromString("1234.5"),
		DueDate:       &due,
		Client:        model.Client{Name: "Acme Ltd", Email: "billing@acme.example", Phone: "+351210000000"},
	}
	msgs := InvoiceMessages(inv, []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}, due.AddDate(0, 0, -3))
	require.Len(t, msgs, 3)

	assert.Equal(t, "billing@acme.example", msgs[0].To)
	assert.Equal(t, "Invoice INV-2025-00007", msgs[0].Subject)
	assert.Equal(t, "+351210000000", msgs[1].To)
	assert.Equal(t, "+351210000000", msgs[2].To, "whatsapp falls back to the phone number")

	body := msgs[0].Body
	for _, want := range []string{"Acme Ltd", "INV-2025-00007", "1234.50", "2025-03-13"} {
		assert.True(t, strings.Contains(body, want), "body %q lacks %q", body, want)
	}
	assert.NotContains(t, body, "Outstanding")
}

func TestFromConfig_DevelopmentOnlyLogs(t *testing.T) {
	var logs syncBuffer
	cfg := &model.Config{Mode: "development"}
	cfg.Notify.SMSGatewayURL = "http://127.0.0.1:1/never-called"
	d := FromConfig(cfg, slog.New(slog.NewTextHandler(&logs, nil)))

	d.Dispatch(Message{Channel: ChannelSMS, To: "+1555", Body: "hello"})
	require.NoError(t, d.Wait(context.Background()))
	assert.Contains(t, logs.String(), "hello")
	assert.NotContains(t, logs.String(), "notification failed")
}
