package model

// CandidateProfile is the structured result of extracting a recruiting
// event. Pointer fields distinguish "not determined" (nil) from an
// explicit value — the fallback extractor leaves fields it cannot
// determine absent rather than guessing.
type CandidateProfile struct {
	FullName        *string  `json:"full_name,omitempty"`
	Email           *string  `json:"email,omitempty"`
	Phone           *string  `json:"phone,omitempty"`
	Role            *string  `json:"role,omitempty"`
	CurrentCompany  *string  `json:"current_company,omitempty"`
	Location        *string  `json:"location,omitempty"`
	YearsExperience *int     `json:"years_experience,omitempty"`
	SalaryExpectUSD *float64 `json:"salary_expectation_usd,omitempty"`
	Links           []string `json:"links,omitempty"`
	Summary         *string  `json:"summary,omitempty"`

	// Degraded marks a profile produced by the fallback path rather
	// than adaptive extraction.
	Degraded bool `json:"degraded,omitempty"`
}

// FieldsPresent counts how many scalar fields were determined.
func (p *CandidateProfile) FieldsPresent() int {
	n := 0
	for _, set := range []bool{
		p.FullName != nil,
		p.Email != nil,
		p.Phone != nil,
		p.Role != nil,
		p.CurrentCompany != nil,
		p.Location != nil,
		p.YearsExperience != nil,
		p.SalaryExpectUSD != nil,
		p.Summary != nil,
	} {
		if set {
			n++
		}
	}
	if len(p.Links) > 0 {
		n++
	}
	return n
}

// Merge fills fields absent on p from other. Used when a resumed event
// combines a cached profile with freshly extracted data.
func (p *CandidateProfile) Merge(other *CandidateProfile) {
	if other == nil {
		return
	}
	if p.FullName == nil {
		p.FullName = other.FullName
	}
	if p.Email == nil {
		p.Email = other.Email
	}
	if p.Phone == nil {
		p.Phone = other.Phone
	}
	if p.Role == nil {
		p.Role = other.Role
	}
	if p.CurrentCompany == nil {
		p.CurrentCompany = other.CurrentCompany
	}
	if p.Location == nil {
		p.Location = other.Location
	}
	if p.YearsExperience == nil {
		p.YearsExperience = other.YearsExperience
	}
	if p.SalaryExpectUSD == nil {
		p.SalaryExpectUSD = other.SalaryExpectUSD
	}
	if p.Summary == nil {
		p.Summary = other.Summary
	}
	if len(p.Links) == 0 {
		p.Links = other.Links
	}
}

// Str returns a pointer to s. Convenience for building profiles.
func Str(s string) *string { return &s }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
