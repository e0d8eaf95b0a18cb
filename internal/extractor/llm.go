// Package extractor turns raw intake text into a structured candidate
// profile, either via tiered Claude models or a deterministic fallback
// rule set when the adaptive path is unavailable.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/recruit-intake/internal/model"
	"github.com/sells-group/recruit-intake/internal/resilience"
	"github.com/sells-group/recruit-intake/pkg/anthropic"
)

const extractSystemText = `You are a recruiting assistant extracting structured candidate data from inbound messages. Return a valid JSON object with these keys: full_name, email, phone, role, current_company, location, years_experience (number), salary_expectation_usd (number), links (array of URLs), summary. Use null for any field not present in the message. Never guess.`

const extractPromptTemplate = `Subject: %SUBJECT%

Message:
%BODY%

Extract the candidate's details. Return only the JSON object.`

// AdaptiveExtractor runs extraction through the Anthropic API at the
// tier chosen by the selector.
type AdaptiveExtractor struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAdaptive creates an AdaptiveExtractor on the given client.
func NewAdaptive(client anthropic.Client) *AdaptiveExtractor {
	return &AdaptiveExtractor{client: client, maxTokens: 1024}
}

// Extract runs one extraction call at the decided tier. Rate-limit
// failures from the API are surfaced as resilience.RateLimitError so the
// invoker can back off and honor any retry-after hint.
func (e *AdaptiveExtractor) Extract(ctx context.Context, event *model.IntakeEvent, decision model.TierDecision) (*model.CandidateProfile, error) {
	prompt := strings.NewReplacer(
		"%SUBJECT%", event.Subject,
		"%BODY%", event.RawBody,
	).Replace(extractPromptTemplate)

	start := time.Now()
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     decision.Model,
		MaxTokens: e.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(extractSystemText),
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	resp.Usage.LogCost(decision.Model, "extract")
	zap.L().Debug("extraction call finished",
		zap.String("event_id", event.ExternalID),
		zap.String("tier", decision.Tier),
		zap.Duration("duration", time.Since(start)),
	)

	profile, err := parseProfile(collectText(resp))
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: parse response for %s", event.ExternalID)
	}
	return profile, nil
}

// classifyAnthropicError maps SDK failures onto the resilience taxonomy.
// 429s and overload errors become RateLimitError carrying the server's
// retry-after header when present.
func classifyAnthropicError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429 || apierr.StatusCode == 529:
			return resilience.NewRateLimitError(err, apierr.StatusCode, retryAfterHeader(apierr))
		case resilience.IsTransientHTTPStatus(apierr.StatusCode):
			return resilience.NewTransientError(err, apierr.StatusCode)
		}
		return err
	}
	if resilience.IsRateLimit(err) {
		return resilience.NewRateLimitError(err, 429, 0)
	}
	return err
}

func retryAfterHeader(apierr *sdk.Error) time.Duration {
	if apierr.Response == nil {
		return 0
	}
	raw := apierr.Response.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func collectText(resp *anthropic.MessageResponse) string {
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseProfile decodes the model's JSON answer into a CandidateProfile.
// Null or missing keys stay nil on the profile.
func parseProfile(text string) (*model.CandidateProfile, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("extractor: empty response")
	}

	var profile model.CandidateProfile
	if err := json.Unmarshal([]byte(cleaned), &profile); err != nil {
		return nil, eris.Wrap(err, "extractor: unmarshal profile")
	}
	return &profile, nil
}

// cleanJSON extracts a JSON object from text that may contain markdown
// code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
