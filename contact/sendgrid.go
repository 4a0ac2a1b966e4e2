package contact

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendEndpoint = "/v3/mail/send"

type SendgridMailer struct {
	apiKey string
	host   string
	from   *mail.Email
	to     *mail.Email
}

// NewSendgridMailer sends to the SendGrid API at host, the public API if host is empty.
func NewSendgridMailer(apiKey, host, from, to string) *SendgridMailer {
	return &SendgridMailer{
		apiKey: apiKey,
		host:   host,
		from:   mail.NewEmail("", from),
		to:     mail.NewEmail("", to),
	}
}

func (m *SendgridMailer) Send(ctx context.Context, subject, text string) error {
	message := mail.NewSingleEmail(m.from, subject, m.to, text, "")
	// the client keeps the request body, one client per message
	client := &sendgrid.Client{Request: sendgrid.GetRequest(m.apiKey, sendEndpoint, m.host)}
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return errors.Wrap(err, "calling sendgrid")
	}
	if response.StatusCode >= 400 {
		return errors.Errorf("sendgrid returned status [%d]: %s", response.StatusCode, response.Body)
	}
	return nil
}
