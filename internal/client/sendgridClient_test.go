package client

import (
	"context"
	"order-reconciler/internal/config"
	"testing"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageEscapesHTMLBody(t *testing.T) {
	msg := newMessage(mail.NewEmail("Orders", "shop@example.com"), EmailMessage{
		To:      "ayu@example.com",
		ToName:  "Ayu",
		Subject: "Order A-1 has shipped",
		Body:    "Hi <b>Ayu</b>, tracking: <script>alert(1)</script> & more",
	})

	var htmlPart, plainPart string
	for _, c := range msg.Content {
		switch c.Type {
		case "text/html":
			htmlPart = c.Value
		case "text/plain":
			plainPart = c.Value
		}
	}
	assert.Equal(t, "<pre>Hi &lt;b&gt;Ayu&lt;/b&gt;, tracking: &lt;script&gt;alert(1)&lt;/script&gt; &amp; more</pre>", htmlPart)
	assert.Contains(t, plainPart, "<script>", "plain part is sent as is")
}

func TestNewMessageAddsBccOnlyForOtherAddress(t *testing.T) {
	from := mail.NewEmail("Orders", "shop@example.com")

	msg := newMessage(from, EmailMessage{To: "ayu@example.com", Bcc: "ops@example.com", Body: "x"})
	require.Len(t, msg.Personalizations, 1)
	require.Len(t, msg.Personalizations[0].BCC, 1)
	assert.Equal(t, "ops@example.com", msg.Personalizations[0].BCC[0].Address)

	msg = newMessage(from, EmailMessage{To: "ops@example.com", Bcc: "ops@example.com", Body: "x"})
	assert.Empty(t, msg.Personalizations[0].BCC)
}

func TestSendGridClientRequiresConfiguration(t *testing.T) {
	err := NewSendGridClient(config.SendGrid{}).Send(context.Background(), EmailMessage{To: "ayu@example.com"})
	assert.Error(t, err)
}
