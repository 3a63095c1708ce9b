// Package notify delivers invoice notifications over email, SMS and
// WhatsApp. Delivery is fire-and-forget: failures are logged and never reach
// the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Channel is a delivery route for a message.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

// DefaultChannels are used when a caller names no channel.
var DefaultChannels = []Channel{ChannelWhatsApp, ChannelSMS}

// ParseChannels validates channel names. Duplicates are dropped.
func ParseChannels(names []string) ([]Channel, error) {
	seen := map[Channel]bool{}
	var out []Channel
	for _, n := range names {
		ch := Channel(strings.ToLower(strings.TrimSpace(n)))
		switch ch {
		case ChannelWhatsApp, ChannelSMS, ChannelEmail:
		default:
			return nil, fmt.Errorf("unknown channel %q", n)
		}
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out, nil
}

// Message is one notification to one recipient.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Body    string
}

// Sender delivers messages of one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Dispatcher sends messages in the background, one goroutine per message.
type Dispatcher struct {
	senders map[Channel]Sender
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher returns a dispatcher without senders. Every send gets
// timeout (default 30s).
func NewDispatcher(logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		senders: map[Channel]Sender{},
		logger:  logger.With("component", "notify"),
		timeout: timeout,
	}
}

// Register installs the sender for a channel. Not safe to call after the
// first Dispatch.
func (d *Dispatcher) Register(ch Channel, s Sender) {
	d.senders[ch] = s
}

// Dispatch queues msgs and returns immediately.
func (d *Dispatcher) Dispatch(msgs ...Message) {
	for _, msg := range msgs {
		s, ok := d.senders[msg.Channel]
		if !ok {
			d.logger.Warn("no sender for channel", "channel", msg.Channel)
			continue
		}
		if msg.To == "" {
			d.logger.Info("recipient has no address for channel, skipped", "channel", msg.Channel)
			continue
		}
		d.wg.Add(1)
		go func(s Sender, msg Message) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := s.Send(ctx, msg); err != nil {
				d.logger.Error("notification failed", "channel", msg.Channel, "to", msg.To, "error", err)
				return
			}
			d.logger.Debug("notification sent", "channel", msg.Channel, "to", msg.To)
		}(s, msg)
	}
}

// Wait blocks until all dispatched messages are done or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
