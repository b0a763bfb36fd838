package notification

import "context"

// Provider delivers owner-facing billing emails.
type Provider interface {
	Send(ctx context.Context, to string, subject string, htmlBody string) error
}

// NoOpProvider is used when SMTP is not configured.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to string, subject string, htmlBody string) error {
	return nil
}
