package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsPresent(t *testing.T) {
	assert.Equal(t, 0, (&CandidateProfile{}).FieldsPresent())

	p := &CandidateProfile{
		FullName: Str("Jane Doe"),
		Email:    Str("jane@example.com"),
		Links:    []string{"https://example.com/jane"},
	}
	assert.Equal(t, 3, p.FieldsPresent())
}

func TestMerge_FillsOnlyAbsentFields(t *testing.T) {
	p := &CandidateProfile{
		Email: Str("body@example.com"),
	}
	p.Merge(&CandidateProfile{
		Email:    Str("hint@example.com"),
		FullName: Str("Jane Doe"),
		Links:    []string{"https://example.com/jane"},
	})

	assert.Equal(t, "body@example.com", *p.Email)
	assert.Equal(t, "Jane Doe", *p.FullName)
	assert.Equal(t, []string{"https://example.com/jane"}, p.Links)
}

func TestMerge_NilOther(t *testing.T) {
	p := &CandidateProfile{Email: Str("jane@example.com")}
	p.Merge(nil)
	assert.Equal(t, "jane@example.com", *p.Email)
}
