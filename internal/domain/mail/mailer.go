// internal/domain/mail/mailer.go
package mail

import "context"

// Audience tells who an automation email is written for.
type Audience string

const (
	AudienceLead  Audience = "lead"  // sent to the prospect
	AudienceStaff Audience = "staff" // internal reminder for the sales team
)

// Message is a fully rendered email handed to a Mailer.
type Message struct {
	LeadID    int64
	EmailType string
	Audience  Audience
	To        string
	ToName    string
	Subject   string
	Body      string
}

// Receipt is what a transport reports back after accepting a message.
type Receipt struct {
	ProviderID string // message id assigned by the transport, may be empty
}

// Mailer delivers a single message. Implementations may fail transiently;
// the scheduler retries on its next sweep.
type Mailer interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}
