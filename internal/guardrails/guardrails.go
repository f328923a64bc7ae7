// Package guardrails validates text crossing the gateway's trust
// boundaries: user input before it reaches the model, and model output
// before it reaches the caller.
//
// Input checks, in order:
//   - type: the value must be a string
//   - emptiness: the trimmed value must be non-empty
//   - length: at most MaxInputLength characters (runes)
//   - threat patterns: script tags, javascript: URLs, inline event
//     handlers, eval(, CSS expression(, iframe/object/embed tags and
//     direct document./window. access
//
// Pattern matching is regex based and case-insensitive. It detects the
// named classes of injection vectors; it is not an HTML sanitizer.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxInputLength is the input ceiling when none is configured.
const DefaultMaxInputLength = 10000

// Reason classifies a guardrail rejection.
type Reason string

const (
	ReasonNotAString       Reason = "not_a_string"
	ReasonEmpty            Reason = "empty"
	ReasonTooLong          Reason = "too_long"
	ReasonDangerousContent Reason = "dangerous_content"
)

// Violation is returned when text fails a guardrail. Message is safe to
// show to the caller.
type Violation struct {
	Reason  Reason
	Stage   string // "input" or "output"
	Message string
	// Pattern names the threat class for DangerousContent.
	Pattern string
}

func (v *Violation) Error() string { return v.Message }

// SecurityRelevant reports whether the rejection indicates an attack
// attempt rather than a malformed request.
func (v *Violation) SecurityRelevant() bool {
	return v.Reason == ReasonDangerousContent
}

// ── Threat patterns ─────────────────────────────────────────

type threatPattern struct {
	name string
	re   *regexp.Regexp
}

var threatPatterns = []threatPattern{
	{"script_tag", regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)},
	{"javascript_url", regexp.MustCompile(`(?i)javascript:`)},
	{"event_handler", regexp.MustCompile(`(?i)on\w+\s*=`)},
	{"eval_call", regexp.MustCompile(`(?i)eval\s*\(`)},
	{"css_expression", regexp.MustCompile(`(?i)expression\s*\(`)},
	{"iframe_tag", regexp.MustCompile(`(?i)<iframe[^>]*>`)},
	{"object_tag", regexp.MustCompile(`(?i)<object[^>]*>`)},
	{"embed_tag", regexp.MustCompile(`(?i)<embed[^>]*>`)},
	{"document_access", regexp.MustCompile(`(?i)document\.`)},
	{"window_access", regexp.MustCompile(`(?i)window\.`)},
}

// PatternNames lists the threat classes checked on input.
func PatternNames() []string {
	names := make([]string, len(threatPatterns))
	for i, p := range threatPatterns {
		names[i] = p.name
	}
	return names
}

// ── Validator ───────────────────────────────────────────────

// Validator applies the input and output guardrails.
type Validator struct {
	maxInputLength int
}

// New creates a Validator. A non-positive maxInputLength uses
// DefaultMaxInputLength.
func New(maxInputLength int) *Validator {
	if maxInputLength <= 0 {
		maxInputLength = DefaultMaxInputLength
	}
	return &Validator{maxInputLength: maxInputLength}
}

// MaxInputLength returns the configured input ceiling.
func (v *Validator) MaxInputLength() int { return v.maxInputLength }

// ValidateInput checks user input and returns it trimmed.
func (v *Validator) ValidateInput(value any) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", &Violation{Reason: ReasonNotAString, Stage: "input", Message: "Input must be a string"}
	}
	if strings.TrimSpace(text) == "" {
		return "", &Violation{Reason: ReasonEmpty, Stage: "input", Message: "Input cannot be empty or whitespace-only"}
	}
	if utf8.RuneCountInString(text) > v.maxInputLength {
		return "", &Violation{
			Reason:  ReasonTooLong,
			Stage:   "input",
			Message: fmt.Sprintf("Input exceeds maximum length of %d characters", v.maxInputLength),
		}
	}

	for _, p := range threatPatterns {
		if p.re.MatchString(text) {
			return "", &Violation{
				Reason:  ReasonDangerousContent,
				Stage:   "input",
				Message: "Input contains potentially dangerous content",
				Pattern: p.name,
			}
		}
	}

	return strings.TrimSpace(text), nil
}

// ValidateOutput checks model output and returns it trimmed. Output is not
// pattern-filtered.
func (v *Validator) ValidateOutput(value any) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", &Violation{Reason: ReasonNotAString, Stage: "output", Message: "Output must be a string"}
	}
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return "", &Violation{Reason: ReasonEmpty, Stage: "output", Message: "LLM returned empty response"}
	}
	return cleaned, nil
}

// ValidateInput checks value against a Validator with the given ceiling.
func ValidateInput(value any, maxLength int) (string, error) {
	return New(maxLength).ValidateInput(value)
}

// ValidateOutput checks model output with default settings.
func ValidateOutput(value any) (string, error) {
	return New(DefaultMaxInputLength).ValidateOutput(value)
}
