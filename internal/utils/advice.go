package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/mail-classifier/internal/core"
)

// advicePromptFormat is shared by every LLM advisor
const advicePromptFormat = `You are an email classification system. A rule engine was unsure about the following email.
Pick exactly one category from this list:
%s

The rule engine suggested "%s" with confidence %.2f (%s).

Respond with a JSON object containing:
- category: string (one of the categories above, spelled exactly)
- confidence: number between 0 and 1 (how confident you are in your choice)
- explanation: string (brief explanation of your choice)

Email:
From: %s
Subject: %s
Body:
%s

Respond only with the JSON object and nothing else.`

// adviceResponse is the structured reply expected from the LLM
type adviceResponse struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// AdvicePrompt formats the second-opinion request for msg, truncating and
// cleaning the body to maxBodySize bytes
func (tp *TextProcessor) AdvicePrompt(msg *core.InboundMessage, verdict core.ClassificationVerdict, maxBodySize int) string {
	names := make([]string, len(core.Categories))
	for i, c := range core.Categories {
		names[i] = "- " + string(c)
	}
	from := msg.Sender
	if msg.DisplayName != "" && !strings.Contains(from, "<") {
		from = fmt.Sprintf("%s <%s>", msg.DisplayName, msg.Sender)
	}
	return fmt.Sprintf(advicePromptFormat,
		strings.Join(names, "\n"),
		verdict.Category, verdict.Confidence, verdict.Reason,
		tp.CleanLine(from),
		tp.CleanLine(msg.Subject),
		tp.ProcessText(msg.Body, maxBodySize))
}

// ParseAdvice decodes an LLM reply, tolerating text around the JSON object.
// A category outside the taxonomy is returned as-is; callers check IsValid.
func ParseAdvice(text, model string) (*core.Advice, error) {
	var resp adviceResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		start := strings.IndexByte(text, '{')
		end := strings.LastIndexByte(text, '}')
		if start < 0 || end <= start {
			return nil, fmt.Errorf("failed to extract JSON from LLM response: %w", err)
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &resp); err != nil {
			return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
		}
	}

	category := core.Category(strings.TrimSpace(resp.Category))
	if c, ok := core.ParseCategory(resp.Category); ok {
		category = c
	}
	return &core.Advice{
		Category:    category,
		Confidence:  resp.Confidence,
		Explanation: resp.Explanation,
		ModelUsed:   model,
	}, nil
}
