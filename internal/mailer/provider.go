// Package mailer delivers loyalty emails: campaign code broadcasts and
// automation sends. Providers are pluggable; the dispatcher owns pacing,
// templating and per-recipient error accounting.
package mailer

import "context"

// Message is one outbound email.
type Message struct {
	To        string
	ToName    string
	FromName  string
	FromEmail string
	Subject   string
	HTML      string
	Text      string

	// Tags ride along to the provider for downstream event attribution.
	Tags map[string]string
}

// Provider sends a single email. Implementations must be safe for
// concurrent use.
type Provider interface {
	Send(ctx context.Context, msg *Message) error
	Name() string
}
