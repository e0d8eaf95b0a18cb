package intake

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/recruit-intake/internal/model"
	"github.com/sells-group/recruit-intake/pkg/salesforce"
)

// CRM writes candidate profiles into Salesforce.
type CRM interface {
	Upsert(ctx context.Context, event *model.IntakeEvent, profile *model.CandidateProfile) (model.DownstreamIDs, error)
}

// SalesforceCRM implements CRM on the Salesforce REST API. Writes are
// keyed by candidate email: an existing unconverted Lead is updated in
// place, otherwise a new Lead is created. A matching Contact, if one
// exists, gets its phone and title refreshed.
type SalesforceCRM struct {
	client salesforce.Client
	source string
}

// NewSalesforceCRM wraps a Salesforce client. source is recorded as the
// LeadSource on created leads.
func NewSalesforceCRM(client salesforce.Client, source string) *SalesforceCRM {
	if source == "" {
		source = "Email Intake"
	}
	return &SalesforceCRM{client: client, source: source}
}

func (c *SalesforceCRM) Upsert(ctx context.Context, event *model.IntakeEvent, profile *model.CandidateProfile) (model.DownstreamIDs, error) {
	var ids model.DownstreamIDs

	var existing *salesforce.Lead
	if profile.Email != nil {
		lead, err := salesforce.FindLeadByEmail(ctx, c.client, *profile.Email)
		if err != nil {
			return ids, classifyDownstream(err, "salesforce", event.CorrelationID)
		}
		existing = lead
	}

	fields := c.leadFields(event, profile)

	if existing != nil {
		if err := salesforce.UpdateLead(ctx, c.client, existing.ID, fields); err != nil {
			return ids, classifyDownstream(err, "salesforce", event.CorrelationID)
		}
		ids.LeadID = existing.ID
	} else {
		leadID, err := salesforce.CreateLead(ctx, c.client, fields)
		if err != nil {
			return ids, classifyDownstream(err, "salesforce", event.CorrelationID)
		}
		ids.LeadID = leadID
	}

	if profile.Email != nil {
		contactID, err := c.refreshContact(ctx, *profile.Email, profile)
		if err != nil {
			// The lead write already landed; a contact refresh failure
			// must not undo it.
			zap.L().Warn("contact refresh failed",
				zap.String("correlation_id", event.CorrelationID),
				zap.Error(err),
			)
		} else {
			ids.ContactID = contactID
		}
	}

	return ids, nil
}

// leadFields builds the Lead field map. Salesforce requires LastName and
// Company, so unknowns get explicit placeholders rather than guesses.
func (c *SalesforceCRM) leadFields(event *model.IntakeEvent, profile *model.CandidateProfile) map[string]any {
	first, last := splitName(profile.FullName)
	if last == "" {
		last = "Unknown"
	}

	company := "Unknown"
	if profile.CurrentCompany != nil {
		company = *profile.CurrentCompany
	}

	fields := map[string]any{
		"LastName":   last,
		"Company":    company,
		"LeadSource": c.source,
	}
	if first != "" {
		fields["FirstName"] = first
	}
	if profile.Email != nil {
		fields["Email"] = *profile.Email
	}
	if profile.Phone != nil {
		fields["Phone"] = *profile.Phone
	}
	if profile.Role != nil {
		fields["Title"] = *profile.Role
	}
	if profile.Location != nil {
		fields["City"] = *profile.Location
	}
	if desc := buildDescription(event, profile); desc != "" {
		fields["Description"] = desc
	}
	return fields
}

func (c *SalesforceCRM) refreshContact(ctx context.Context, email string, profile *model.CandidateProfile) (string, error) {
	contact, err := salesforce.FindContactByEmail(ctx, c.client, email)
	if err != nil {
		return "", err
	}
	if contact == nil {
		return "", nil
	}

	fields := map[string]any{}
	if profile.Phone != nil {
		fields["Phone"] = *profile.Phone
	}
	if profile.Role != nil {
		fields["Title"] = *profile.Role
	}
	if len(fields) == 0 {
		return contact.ID, nil
	}
	if err := salesforce.UpdateContact(ctx, c.client, contact.ID, fields); err != nil {
		return "", err
	}
	return contact.ID, nil
}

// splitName breaks a full name into first and last. A single token is
// treated as the last name.
func splitName(full *string) (first, last string) {
	if full == nil {
		return "", ""
	}
	parts := strings.Fields(*full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

func buildDescription(event *model.IntakeEvent, profile *model.CandidateProfile) string {
	var b strings.Builder
	if event.Subject != "" {
		b.WriteString("Subject: ")
		b.WriteString(event.Subject)
		b.WriteString("\n")
	}
	if profile.Summary != nil {
		b.WriteString(*profile.Summary)
		b.WriteString("\n")
	}
	if len(profile.Links) > 0 {
		b.WriteString("Links: ")
		b.WriteString(strings.Join(profile.Links, ", "))
	}
	return strings.TrimSpace(b.String())
}
