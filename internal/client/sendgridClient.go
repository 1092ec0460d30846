package client

import (
	"context"
	"fmt"
	"html"
	"order-reconciler/internal/config"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type EmailMessage struct {
	To      string
	ToName  string
	Bcc     string
	Subject string
	Body    string
}

type EmailClient interface {
	Send(ctx context.Context, msg EmailMessage) error
}

type sendGridClientImpl struct {
	apiKey    string
	fromEmail string
	fromName  string
}

func NewSendGridClient(cfg config.SendGrid) EmailClient {
	return &sendGridClientImpl{
		apiKey:    cfg.ApiKey,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

func (c *sendGridClientImpl) Send(ctx context.Context, msg EmailMessage) error {
	if c.apiKey == "" {
		return fmt.Errorf("sendgrid api key is empty")
	}
	if c.fromEmail == "" {
		return fmt.Errorf("from address is empty")
	}
	if msg.To == "" {
		return fmt.Errorf("to address is empty")
	}

	message := newMessage(mail.NewEmail(c.fromName, c.fromEmail), msg)

	client := sendgrid.NewSendClient(c.apiKey)
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, response.Body)
	}

	return nil
}

// newMessage renders the plain body into an escaped <pre> block for the HTML
// part, since it carries customer and operator supplied text.
func newMessage(from *mail.Email, msg EmailMessage) *mail.SGMailV3 {
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, "<pre>"+html.EscapeString(msg.Body)+"</pre>")
	if msg.Bcc != "" && msg.Bcc != msg.To && len(message.Personalizations) > 0 {
		message.Personalizations[0].AddBCCs(mail.NewEmail("", msg.Bcc))
	}
	return message
}
