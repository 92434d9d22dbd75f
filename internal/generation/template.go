// Package generation renders routing decisions as user-facing text. The
// structured decision is authoritative: generators phrase it, they never
// change a target or a value.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/scenepilot/scenepilot/pkg/models"
)

// RefusalMessage is returned whenever no grounded answer exists.
const RefusalMessage = "I can only help with the implant-planning scene, and I have no grounded information about that."

// InfraErrorMessage is returned when the pipeline's backing services failed.
const InfraErrorMessage = "Something went wrong on our side. Please try again in a moment."

type renderFunc func(d *models.RoutingDecision) string

// TemplateGenerator renders every action deterministically.
type TemplateGenerator struct {
	renderers map[models.Action]renderFunc
}

// NewTemplateGenerator creates the deterministic generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{renderers: map[models.Action]renderFunc{
		models.ActionTool:          renderTool,
		models.ActionInfo:          renderInfo,
		models.ActionNote:          renderNote,
		models.ActionSizeRequest:   renderQuestion,
		models.ActionClarification: renderQuestion,
		models.ActionRefusal:       func(*models.RoutingDecision) string { return RefusalMessage },
		models.ActionInfraError:    func(*models.RoutingDecision) string { return InfraErrorMessage },
	}}
}

func (g *TemplateGenerator) Kind() string { return "template" }

// Generate renders d. It fails only on an action it does not know.
func (g *TemplateGenerator) Generate(_ context.Context, d *models.RoutingDecision, _ string) (string, error) {
	if d == nil {
		return "", fmt.Errorf("nil decision")
	}
	fn, ok := g.renderers[d.Action]
	if !ok {
		return "", fmt.Errorf("no template for action %q", d.Action)
	}
	return fn(d), nil
}

func renderTool(d *models.RoutingDecision) string {
	name := "it"
	if d.Target != nil {
		name = d.Target.DisplayName()
	}
	if d.Value == nil || !d.Value.Present() {
		return fmt.Sprintf("Done: %s.", name)
	}
	v := d.Value
	switch v.Kind {
	case models.ValueSwitch:
		switch v.State {
		case models.SwitchOn:
			return fmt.Sprintf("Turning on %s.", name)
		case models.SwitchOff:
			return fmt.Sprintf("Turning off %s.", name)
		default:
			return fmt.Sprintf("Toggling %s.", name)
		}
	case models.ValueDimension:
		unit := ""
		if d.Target != nil && d.Target.Unit != "" {
			unit = " " + d.Target.Unit
		}
		return fmt.Sprintf("Selecting %s %s%s (height x length).", name, v.String(), unit)
	default:
		if v.Unit == models.UnitDelta {
			return fmt.Sprintf("Adjusting %s by %s.", name, v.String())
		}
		return fmt.Sprintf("Setting %s to %s.", name, v.String())
	}
}

func renderInfo(d *models.RoutingDecision) string {
	if d.Answer != "" {
		return d.Answer
	}
	if len(d.Sources) == 0 {
		return RefusalMessage
	}
	return "From the reference material: " + strings.TrimSpace(d.Sources[0].Text)
}

func renderNote(d *models.RoutingDecision) string {
	if d.Note == nil {
		return "Okay."
	}
	switch d.Note.Op {
	case models.NoteStart:
		return "Note-taking started."
	case models.NoteAdd:
		return fmt.Sprintf("Noted: %s", d.Note.Text)
	default:
		if d.Reason != "" {
			return "There is no open note-taking session."
		}
		return "Notes finalized."
	}
}

func renderQuestion(d *models.RoutingDecision) string {
	if d.Clarification == nil {
		return "Could you tell me more about what you need?"
	}
	q := d.Clarification.Question
	if len(d.Clarification.Options) > 0 && d.Clarification.Slot == models.SlotEntity && !strings.HasPrefix(q, "Did you mean") {
		q += " Options: " + strings.Join(d.Clarification.Options, ", ") + "."
	}
	return q
}
