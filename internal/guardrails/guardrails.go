// Package guardrails checks utterances before they reach the pipeline and
// decisions before they reach generation.
//
// Input checks:
//   - empty: nothing but whitespace
//   - max_length: more than MaxInputChars characters
//   - prompt_injection: heuristic patterns aimed at the answer generator
//
// The grounding gate downgrades info answers that carry neither a catalog
// fact nor a source above the relevance floor to refusals.
package guardrails

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/scenepilot/scenepilot/pkg/models"
)

// Kind names the check that failed.
type Kind string

const (
	KindEmpty           Kind = "empty"
	KindMaxLength       Kind = "max_length"
	KindPromptInjection Kind = "prompt_injection"
)

// Violation is returned by CheckInput.
type Violation struct {
	Kind    Kind
	Message string
}

func (v *Violation) Error() string { return fmt.Sprintf("%s: %s", v.Kind, v.Message) }

// IsViolation reports whether err is a Violation of kind k.
func IsViolation(err error, k Kind) bool {
	var v *Violation
	return errors.As(err, &v) && v.Kind == k
}

// Config configures the guard.
type Config struct {
	MaxInputChars  int     // default 8000
	RelevanceFloor float64 // minimum fused score of a grounding source
	Injection      bool    // run prompt-injection heuristics
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{MaxInputChars: 8000, RelevanceFloor: 0.35, Injection: true}
}

// Guard is stateless apart from its config.
type Guard struct {
	cfg Config
}

// New creates a guard.
func New(cfg Config) *Guard {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 8000
	}
	return &Guard{cfg: cfg}
}

// ── Input ───────────────────────────────────────────────────

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
}

// CheckInput validates an utterance. It returns a *Violation or nil.
func (g *Guard) CheckInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return &Violation{Kind: KindEmpty, Message: "text is empty"}
	}
	if n := utf8.RuneCountInString(text); n > g.cfg.MaxInputChars {
		return &Violation{
			Kind:    KindMaxLength,
			Message: fmt.Sprintf("text has %d characters, limit is %d", n, g.cfg.MaxInputChars),
		}
	}
	if g.cfg.Injection {
		for _, re := range injectionPatterns {
			if re.MatchString(text) {
				return &Violation{Kind: KindPromptInjection, Message: "potential prompt injection detected"}
			}
		}
	}
	return nil
}

// ── Grounding ───────────────────────────────────────────────

// Grounded reports whether d may be handed to generation as an answer.
// Non-answer actions are always grounded.
func (g *Guard) Grounded(d *models.RoutingDecision) bool {
	if d == nil || d.Action != models.ActionInfo {
		return true
	}
	if strings.TrimSpace(d.Answer) != "" {
		return true
	}
	for _, s := range d.Sources {
		if s.FusedScore >= g.cfg.RelevanceFloor && strings.TrimSpace(s.Text) != "" {
			return true
		}
	}
	return false
}

// Gate returns d unchanged when it is grounded and a refusal otherwise.
func (g *Guard) Gate(d *models.RoutingDecision) *models.RoutingDecision {
	if g.Grounded(d) {
		return d
	}
	return &models.RoutingDecision{
		Action:       models.ActionRefusal,
		Intent:       d.Intent,
		Target:       d.Target,
		MissingSlots: []models.Slot{},
		Reason:       "answer not grounded",
	}
}

// Refusal builds the decision for input rejected by a prompt-injection check.
func Refusal(err error) *models.RoutingDecision {
	return &models.RoutingDecision{
		Action:       models.ActionRefusal,
		Intent:       models.IntentNone,
		MissingSlots: []models.Slot{},
		Reason:       err.Error(),
	}
}
