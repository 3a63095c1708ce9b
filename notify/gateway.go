package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewaySender posts messages as JSON to an HTTP SMS or WhatsApp gateway:
//
//	POST <url>  {"channel":"sms","to":"+351...","text":"..."}
//
// Any 2xx status counts as delivered.
type GatewaySender struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewGatewaySender(url, token string) *GatewaySender {
	return &GatewaySender{URL: url, Token: token, Client: &http.Client{Timeout: 20 * time.Second}}
}

type gatewayPayload struct {
	Channel Channel `json:"channel"`
	To      string  `json:"to"`
	Text    string  `json:"text"`
}

func (g *GatewaySender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(gatewayPayload{Channel: msg.Channel, To: msg.To, Text: msg.Body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s gateway: %w", msg.Channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s gateway: status %d: %s", msg.Channel, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// LogSender only logs messages. It stands in for real channels outside
// production.
type LogSender struct {
	Logger interface {
		Info(msg string, args ...any)
	}
}

func (l LogSender) Send(_ context.Context, msg Message) error {
	l.Logger.Info("notification", "channel", msg.Channel, "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}
