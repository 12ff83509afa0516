package mailer

import (
	"context"
	"fmt"

	"lead_email_automation/internal/domain/mail"
)

// RoutingMailer picks a transport by audience, so staff reminders can go to
// chat while lead emails go out over SMTP.
type RoutingMailer struct {
	routes   map[mail.Audience]mail.Mailer
	fallback mail.Mailer
}

func NewRoutingMailer(fallback mail.Mailer) *RoutingMailer {
	return &RoutingMailer{routes: make(map[mail.Audience]mail.Mailer), fallback: fallback}
}

// Route sends messages for audience through m. Not safe to call after Send.
func (r *RoutingMailer) Route(audience mail.Audience, m mail.Mailer) *RoutingMailer {
	r.routes[audience] = m
	return r
}

func (r *RoutingMailer) Send(ctx context.Context, msg mail.Message) (mail.Receipt, error) {
	if m, ok := r.routes[msg.Audience]; ok {
		return m.Send(ctx, msg)
	}
	if r.fallback == nil {
		return mail.Receipt{}, fmt.Errorf("no mailer for audience %q", msg.Audience)
	}
	return r.fallback.Send(ctx, msg)
}
