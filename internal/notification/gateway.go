package notification

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"tradedispatch_backend/internal/dispatch/ports"
	"tradedispatch_backend/platform/config"
	"tradedispatch_backend/platform/logger"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// ContactReader resolves a professional's contact details.
type ContactReader interface {
	GetContact(ctx context.Context, id uuid.UUID) (name, email, phoneNumber string, err error)
}

// Gateway is the outbound notification fan-out: email plus SMS for
// professionals, email for role-wide alerts. It implements ports.Notifier.
type Gateway struct {
	contacts ContactReader
	email    EmailSender
	sms      SMSSender
	alerts   config.AlertConfig
	log      *logger.Logger
}

// NewGateway creates the notification gateway.
func NewGateway(contacts ContactReader, email EmailSender, sms SMSSender, alerts config.AlertConfig, log *logger.Logger) *Gateway {
	return &Gateway{contacts: contacts, email: email, sms: sms, alerts: alerts, log: log}
}

// NotifyProfessional renders the template and delivers it over every channel
// the professional has. Delivery counts as successful when at least one
// channel goes through.
func (g *Gateway) NotifyProfessional(ctx context.Context, professionalID uuid.UUID, templateName string, payload map[string]interface{}) error {
	name, email, phoneNumber, err := g.contacts.GetContact(ctx, professionalID)
	if err != nil {
		return err
	}

	// Annotate a copy; the caller's payload stays untouched.
	data := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	data["name"] = name

	subject, body, err := render(templateName, data)
	if err != nil {
		return err
	}

	var delivered bool
	var errs error
	if email != "" {
		if err := g.email.Send(ctx, email, subject, body); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			delivered = true
		}
	}
	if phoneNumber != "" {
		if err := g.sms.Send(ctx, phoneNumber, subject); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			delivered = true
		}
	}

	if !delivered && errs != nil {
		return errs
	}
	if !delivered {
		return fmt.Errorf("professional %s has no reachable contact channel", professionalID)
	}
	return nil
}

// NotifyRoles emails the configured recipients of each role. Roles without
// configured recipients are logged and skipped.
func (g *Gateway) NotifyRoles(ctx context.Context, roles []string, templateName string, payload map[string]interface{}) error {
	subject, body, err := render(templateName, payload)
	if err != nil {
		return err
	}

	var errs error
	for _, role := range roles {
		recipients := g.roleRecipients(role)
		if len(recipients) == 0 {
			g.log.Warn("no alert recipients configured for role", "role", role)
			continue
		}
		for _, recipient := range recipients {
			if err := g.email.Send(ctx, recipient, subject, body); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("alert to %s: %w", recipient, err))
			}
		}
	}
	return errs
}

func (g *Gateway) roleRecipients(role string) []string {
	switch role {
	case "operator":
		return g.alerts.GetOperatorAlertEmails()
	case "manager":
		return g.alerts.GetManagerAlertEmails()
	default:
		return nil
	}
}

type messageTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[string]messageTemplate{
	ports.TemplateDispatchOffer: {
		subject: "New job offer {{.jobReference}}",
		body: template.Must(template.New("offer").Parse(
			"Hi {{.name}},\n\nA new {{.urgency}} {{.category}} job at {{.address}} is available.\n" +
				"Respond before {{.expiresAt}} to claim it.\n\nReference: {{.jobReference}}\n")),
	},
	ports.TemplateOfferWithdrawn: {
		subject: "Offer withdrawn for {{.jobReference}}",
		body: template.Must(template.New("withdrawn").Parse(
			"Hi {{.name}},\n\nThe offer for job {{.jobReference}} is no longer available: {{.reason}}.\n")),
	},
	ports.TemplateEscalationAlert: {
		subject: "Escalation on job {{.jobReference}}",
		body: template.Must(template.New("alert").Parse(
			"Job {{.jobReference}} needs attention at escalation step {{.stepIndex}}.\n{{.note}}\n")),
	},
}

func render(templateName string, payload map[string]interface{}) (subject, body string, err error) {
	mt, ok := templates[templateName]
	if !ok {
		return "", "", fmt.Errorf("unknown notification template %q", templateName)
	}

	subjectTmpl, err := template.New("subject").Parse(mt.subject)
	if err != nil {
		return "", "", err
	}
	var subjectBuf, bodyBuf bytes.Buffer
	if err := subjectTmpl.Execute(&subjectBuf, payload); err != nil {
		return "", "", err
	}
	if err := mt.body.Execute(&bodyBuf, payload); err != nil {
		return "", "", err
	}
	return subjectBuf.String(), bodyBuf.String(), nil
}

var _ ports.Notifier = (*Gateway)(nil)
