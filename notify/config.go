package notify

import (
	"log/slog"
	"time"

	"github.com/clientdesk/crm/model"
)

// FromConfig builds a dispatcher for cfg. Outside production, and for
// channels without credentials, messages are only logged.
func FromConfig(cfg *model.Config, logger *slog.Logger) *Dispatcher {
	d := NewDispatcher(logger, 30*time.Second)
	logOnly := LogSender{Logger: d.logger}
	for _, ch := range []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp} {
		d.Register(ch, logOnly)
	}
	if cfg.Mode != "production" {
		return d
	}
	n := cfg.Notify
	if n.MailAPIKey != "" && n.MailSecret != "" {
		d.Register(ChannelEmail, NewMailjetSender(n.MailAPIKey, n.MailSecret, n.MailFrom, n.MailFromName))
	}
	if n.SMSGatewayURL != "" {
		d.Register(ChannelSMS, NewGatewaySender(n.SMSGatewayURL, n.SMSGatewayToken))
	}
	if n.WhatsAppGatewayURL != "" {
		d.Register(ChannelWhatsApp, NewGatewaySender(n.WhatsAppGatewayURL, n.WhatsAppGatewayToken))
	}
	return d
}
