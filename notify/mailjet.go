package notify

import (
	"context"
	"fmt"

	"github.com/mailjet/mailjet-apiv3-go"
)

// MailjetSender sends email through the Mailjet v3.1 send API.
type MailjetSender struct {
	client   *mailjet.Client
	from     string
	fromName string
}

func NewMailjetSender(apiKey, secret, from, fromName string) *MailjetSender {
	return &MailjetSender{
		client:   mailjet.NewMailjetClient(apiKey, secret),
		from:     from,
		fromName: fromName,
	}
}

func (m *MailjetSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	messagesInfo := []mailjet.InfoMessagesV31{
		{
			From: &mailjet.RecipientV31{
				Email: m.from,
				Name:  m.fromName,
			},
			To: &mailjet.RecipientsV31{
				mailjet.RecipientV31{
					Email: msg.To,
				},
			},
			Subject:  msg.Subject,
			TextPart: msg.Body,
		},
	}
	messages := mailjet.MessagesV31{Info: messagesInfo}
	if _, err := m.client.SendMailV31(&messages); err != nil {
		return fmt.Errorf("mailjet: %w", err)
	}
	return nil
}
