// Package normalize canonicalizes extracted candidate fields so that
// replays and downstream matching see a stable form regardless of how the
// source message was written.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/recruit-intake/internal/model"
)

// Normalizer canonicalizes a profile in place.
type Normalizer interface {
	Normalize(profile *model.CandidateProfile)
}

type defaultNormalizer struct {
	titler cases.Caser
}

// New returns the standard normalizer.
func New() Normalizer {
	return &defaultNormalizer{titler: cases.Title(language.English)}
}

func (n *defaultNormalizer) Normalize(profile *model.CandidateProfile) {
	if profile == nil {
		return
	}

	if profile.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*profile.Email))
		if email == "" {
			profile.Email = nil
		} else {
			profile.Email = &email
		}
	}

	if profile.Phone != nil {
		phone := normalizePhone(*profile.Phone)
		if phone == "" {
			profile.Phone = nil
		} else {
			profile.Phone = &phone
		}
	}

	profile.FullName = n.titleField(profile.FullName)
	profile.Location = n.titleField(profile.Location)
	profile.Role = trimField(profile.Role)
	profile.CurrentCompany = trimField(profile.CurrentCompany)
	profile.Summary = trimField(profile.Summary)

	profile.Links = dedupeLinks(profile.Links)
}

// titleField trims and title-cases a field unless the source already
// carries mixed case, which usually means it was typed deliberately
// (e.g. "McAllister", "van der Berg").
func (n *defaultNormalizer) titleField(field *string) *string {
	if field == nil {
		return nil
	}
	v := strings.TrimSpace(*field)
	if v == "" {
		return nil
	}
	if v == strings.ToLower(v) || v == strings.ToUpper(v) {
		v = n.titler.String(strings.ToLower(v))
	}
	return &v
}

func trimField(field *string) *string {
	if field == nil {
		return nil
	}
	v := strings.TrimSpace(*field)
	if v == "" {
		return nil
	}
	return &v
}

// normalizePhone keeps digits and a leading plus, dropping separators.
func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(strings.TrimPrefix(digits, "+")) < 7 {
		return ""
	}
	return digits
}

func dedupeLinks(links []string) []string {
	if len(links) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(links))
	out := links[:0]
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSuffix(link, "/"))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, link)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
