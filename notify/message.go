package notify

import (
	"fmt"
	"time"

	"github.com/clientdesk/crm/model"
	"github.com/xeonx/timeago"
)

var relative = timeago.NoMax(timeago.English)

// InvoiceMessages builds one message per channel for inv. inv.Client must be
// loaded; channels the client has no address for yield a message with an
// empty To, which the dispatcher skips.
func InvoiceMessages(inv *model.Invoice, channels []Channel, now time.Time) []Message {
	text := invoiceText(inv, now)
	subject := fmt.Sprintf("Invoice %s", inv.InvoiceNumber)
	msgs := make([]Message, 0, len(channels))
	for _, ch := range channels {
		msg := Message{Channel: ch, Body: text}
		switch ch {
		case ChannelEmail:
			msg.To = inv.Client.Email
			msg.Subject = subject
		case ChannelSMS:
			msg.To = inv.Client.Phone
		case ChannelWhatsApp:
			msg.To = inv.Client.WhatsApp
			if msg.To == "" {
				msg.To = inv.Client.Phone
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func invoiceText(inv *model.Invoice, now time.Time) string {
	text := fmt.Sprintf("Hello %s, your invoice %s over %s has been issued.",
		inv.Client.Name, inv.InvoiceNumber, model.FormatMoney(inv.Total))
	if inv.DueDate != nil {
		text += fmt.Sprintf(" It is due on %s (%s).", inv.DueDate.Format("2006-01-02"), relative.FormatReference(*inv.DueDate, now))
	}
	if inv.PaidAmount.IsPositive() {
		text += fmt.Sprintf(" Outstanding: %s.", model.FormatMoney(inv.RemainingAmount))
	}
	return text
}
