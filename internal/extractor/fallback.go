package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/recruit-intake/internal/model"
)

// maxFallbackInput caps how much of the raw body the rule set scans.
// Anything past the cap is ignored rather than rejected.
const maxFallbackInput = 64 * 1024

// Hints carries envelope metadata that can stand in for fields the body
// itself never states.
type Hints struct {
	Subject     string
	FromName    string
	FromAddress string
}

var (
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe    = regexp.MustCompile(`\+?\d[\d\s().\-]{7,14}\d`)
	urlRe      = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	nameRe     = regexp.MustCompile(`(?mi)^(?:name|full name|candidate)\s*[:\-]\s*(\S.*)$`)
	roleRe     = regexp.MustCompile(`(?mi)^(?:role|title|position|applying for)\s*[:\-]\s*(\S.*)$`)
	companyRe  = regexp.MustCompile(`(?mi)^(?:company|current company|employer)\s*[:\-]\s*(\S.*)$`)
	locationRe = regexp.MustCompile(`(?mi)^(?:location|based in|city)\s*[:\-]\s*(\S.*)$`)
	yearsRe    = regexp.MustCompile(`(?i)(\d{1,2})\+?\s*(?:years|yrs)`)
	salaryRe   = regexp.MustCompile(`(?i)\$\s?(\d{1,3}(?:,\d{3})*|\d+)\s*([kK])?`)
)

// FallbackExtractor applies a fixed, ordered list of pattern rules to the
// raw text. It never calls out, never guesses, and never returns an
// error: fields its rules cannot find stay nil.
type FallbackExtractor struct{}

// NewFallback returns the deterministic rule-based extractor.
func NewFallback() *FallbackExtractor {
	return &FallbackExtractor{}
}

// Extract scans text with the rule list and returns whatever it found.
// Envelope hints only fill fields the body itself never stated. Empty
// input yields an empty valid profile.
func (f *FallbackExtractor) Extract(text string, hints Hints) *model.CandidateProfile {
	if len(text) > maxFallbackInput {
		text = text[:maxFallbackInput]
	}

	profile := f.scanBody(text)
	profile.Merge(hintProfile(hints))
	profile.Degraded = true
	return profile
}

// hintProfile lifts envelope metadata into profile shape so it can be
// merged under whatever the body scan found.
func hintProfile(h Hints) *model.CandidateProfile {
	p := &model.CandidateProfile{}
	if h.FromAddress != "" {
		p.Email = model.Str(strings.ToLower(h.FromAddress))
	}
	if h.FromName != "" {
		p.FullName = model.Str(strings.TrimSpace(h.FromName))
	}
	return p
}

func (f *FallbackExtractor) scanBody(text string) *model.CandidateProfile {
	profile := &model.CandidateProfile{}

	if m := emailRe.FindString(text); m != "" {
		profile.Email = model.Str(strings.ToLower(m))
	}

	if m := phoneRe.FindString(text); m != "" {
		profile.Phone = model.Str(strings.TrimSpace(m))
	}

	for _, u := range urlRe.FindAllString(text, 10) {
		profile.Links = append(profile.Links, strings.TrimRight(u, ".,;"))
	}

	if m := nameRe.FindStringSubmatch(text); m != nil {
		profile.FullName = model.Str(strings.TrimSpace(m[1]))
	}

	if m := roleRe.FindStringSubmatch(text); m != nil {
		profile.Role = model.Str(strings.TrimSpace(m[1]))
	}
	if m := companyRe.FindStringSubmatch(text); m != nil {
		profile.CurrentCompany = model.Str(strings.TrimSpace(m[1]))
	}
	if m := locationRe.FindStringSubmatch(text); m != nil {
		profile.Location = model.Str(strings.TrimSpace(m[1]))
	}

	if m := yearsRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			profile.YearsExperience = model.Int(n)
		}
	}

	if m := salaryRe.FindStringSubmatch(text); m != nil {
		raw := strings.ReplaceAll(m[1], ",", "")
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			if m[2] != "" {
				v *= 1000
			}
			profile.SalaryExpectUSD = model.Float(v)
		}
	}

	return profile
}
