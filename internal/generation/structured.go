// ABOUTME: Structured (JSON) completions with brace-extraction repair
// ABOUTME: Falls back to a canned payload carrying the salient prompt terms

package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// structuredSystemPrompt is used when the caller does not supply one.
const structuredSystemPrompt = `You are an AI assistant that responds in JSON format.
Provide a well-structured response that can be parsed as JSON.
Do not include any explanations or text outside of the JSON structure.`

// maxTerms is how many salient terms the fallback paths restate.
const maxTerms = 5

// FallbackPayload is the canned structured answer used when no parseable
// provider output is available.
type FallbackPayload struct {
	Analysis        string   `json:"analysis"`
	Recommendations []string `json:"recommendations"`
	Terms           []string `json:"terms"`
	Success         bool     `json:"success"`
	FallbackMode    bool     `json:"fallbackMode"`
}

// NewFallbackPayload builds the canned payload for prompt.
func NewFallbackPayload(prompt string) FallbackPayload {
	terms := ExtractTerms(prompt)
	return FallbackPayload{
		Analysis: fmt.Sprintf(
			"I understand you're asking about %s. I'm currently operating in fallback mode with limited capabilities.",
			strings.Join(terms, ", ")),
		Recommendations: []string{
			"Please try again later when the full system is available.",
			"Consider rephrasing your query for better results.",
			"Check your connection and try again.",
		},
		Terms:        terms,
		Success:      false,
		FallbackMode: true,
	}
}

// StructuredRequest describes a structured completion.
type StructuredRequest struct {
	Prompt       string
	SystemPrompt string
	Params       Params
}

// GenerateStructured asks the provider for JSON and decodes it into T.
// It never fails: unparseable output is repaired or replaced by the
// fallback payload. The second return value is true when the fallback
// payload was used.
func GenerateStructured[T any](ctx context.Context, g *Gateway, req StructuredRequest) (T, bool) {
	if g.Available() {
		text, err := g.complete(ctx, g.structuredRequest(req))
		if err != nil {
			g.logger.Warn("structured completion failed, using fallback",
				"provider", g.provider.Name(),
				"error", err)
		} else if v, err := ParseStructured[T](text); err == nil {
			return v, false
		} else {
			g.logger.Warn("structured completion unparseable, using fallback",
				"provider", g.provider.Name(),
				"error", err)
		}
	}

	return fallbackStructured[T](req.Prompt), true
}

func (g *Gateway) structuredRequest(req StructuredRequest) *Request {
	system := req.SystemPrompt
	if system == "" {
		system = structuredSystemPrompt
	}
	return &Request{
		SystemPrompt: system,
		History:      []Turn{{Role: SpeakerUser, Content: req.Prompt}},
		Params:       req.Params,
		JSON:         true,
	}
}

// ParseStructured decodes text into T. When text is not valid JSON the
// outermost {...} span is extracted and decoded instead.
func ParseStructured[T any](text string) (T, error) {
	var out T
	firstErr := json.Unmarshal([]byte(text), &out)
	if firstErr == nil {
		return out, nil
	}

	span, ok := outermostObject(text)
	if !ok {
		return out, fmt.Errorf("parsing structured response: %w", firstErr)
	}

	var extracted T
	if err := json.Unmarshal([]byte(span), &extracted); err != nil {
		return out, fmt.Errorf("parsing extracted object: %w", err)
	}
	return extracted, nil
}

// outermostObject returns the substring from the first '{' to the last '}'.
func outermostObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// fallbackStructured decodes the canned payload into T. Fields of T that
// the payload does not carry keep their zero value.
func fallbackStructured[T any](prompt string) T {
	var out T
	data, err := json.Marshal(NewFallbackPayload(prompt))
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

// ExtractTerms returns up to five salient terms of text: lowercased,
// punctuation stripped, whitespace split, longer than three characters,
// in order of appearance.
func ExtractTerms(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)

	terms := make([]string, 0, maxTerms)
	for _, field := range strings.Fields(cleaned) {
		if len([]rune(field)) <= 3 {
			continue
		}
		terms = append(terms, field)
		if len(terms) == maxTerms {
			break
		}
	}
	return terms
}
