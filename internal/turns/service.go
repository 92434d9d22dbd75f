// Package turns runs one utterance of a session through the decision
// pipeline: input guardrails, routing, note side effects, generation and the
// history append. Turns of one session are serialized; turns of different
// sessions run in parallel.
package turns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/generation"
	"github.com/scenepilot/scenepilot/internal/guardrails"
	"github.com/scenepilot/scenepilot/internal/metrics"
	"github.com/scenepilot/scenepilot/internal/notes"
	"github.com/scenepilot/scenepilot/internal/sessions"
	"github.com/scenepilot/scenepilot/pkg/contracts"
	"github.com/scenepilot/scenepilot/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scenepilot/turns")

// ErrMissingSession is returned for requests without a session id.
var ErrMissingSession = errors.New("session_id is required")

// DefaultHistoryWindow is how many previous turns are loaded per request.
const DefaultHistoryWindow = 5

// Resolver turns an utterance plus recent history into a decision.
type Resolver interface {
	Resolve(ctx context.Context, text string, history []models.ConversationTurn) *models.RoutingDecision
}

// Service orchestrates turns.
type Service struct {
	resolver  Resolver
	guard     *guardrails.Guard
	history   contracts.HistoryStore
	notes     *notes.Service
	generator contracts.Generator
	fallback  contracts.Generator
	locks     *sessions.KeyedLocker
	window    int
	now       func() time.Time
}

// Options carries the collaborators of a Service. Fallback defaults to the
// template generator and Generator defaults to Fallback.
type Options struct {
	Resolver      Resolver
	Guard         *guardrails.Guard
	History       contracts.HistoryStore
	Notes         *notes.Service
	Generator     contracts.Generator
	Fallback      contracts.Generator
	HistoryWindow int
}

// NewService creates the turn service.
func NewService(o Options) *Service {
	if o.Fallback == nil {
		o.Fallback = generation.NewTemplateGenerator()
	}
	if o.Generator == nil {
		o.Generator = o.Fallback
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = DefaultHistoryWindow
	}
	if o.Guard == nil {
		o.Guard = guardrails.New(guardrails.DefaultConfig())
	}
	return &Service{
		resolver:  o.Resolver,
		guard:     o.Guard,
		history:   o.History,
		notes:     o.Notes,
		generator: o.Generator,
		fallback:  o.Fallback,
		locks:     sessions.NewKeyedLocker(),
		window:    o.HistoryWindow,
		now:       time.Now,
	}
}

// Handle processes one turn. Errors are returned only for requests that
// never reach the pipeline: a missing session id or input rejected as empty
// or oversized (a *guardrails.Violation). Everything else, infrastructure
// failures included, comes back as a decision.
func (s *Service) Handle(ctx context.Context, req models.TurnRequest) (*models.TurnResponse, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	ctx, span := tracer.Start(ctx, "turns.handle")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	start := time.Now()
	metrics.TurnsInFlight.Inc()
	defer metrics.TurnsInFlight.Dec()

	var d *models.RoutingDecision
	if err := s.guard.CheckInput(req.Text); err != nil {
		var v *guardrails.Violation
		if errors.As(err, &v) {
			metrics.RejectedInputsTotal.WithLabelValues(string(v.Kind)).Inc()
		}
		if !guardrails.IsViolation(err, guardrails.KindPromptInjection) {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		d = guardrails.Refusal(err)
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	var finalized []models.Note
	if d == nil {
		d, finalized = s.decide(ctx, sessionID, req.Text)
	}

	msg, err := s.generator.Generate(ctx, d, req.Text)
	if err != nil {
		log.Warn().Err(err).Str("generator", s.generator.Kind()).Msg("Generation failed, using fallback")
		msg, err = s.fallback.Generate(ctx, d, req.Text)
		if err != nil {
			msg = ""
			log.Error().Err(err).Msg("Fallback generation failed")
		}
	}
	d.Message = msg

	turn := models.TurnFromDecision(req.Text, d, s.now())
	if err := s.history.Append(ctx, sessionID, turn); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to record turn")
	}

	elapsed := time.Since(start)
	metrics.ObserveDecision(d, elapsed)
	span.SetAttributes(
		attribute.String("decision.action", string(d.Action)),
		attribute.String("decision.intent", string(d.Intent)),
		attribute.Float64("decision.confidence", d.Confidence),
	)
	log.Info().
		Str("session", sessionID).
		Str("action", string(d.Action)).
		Str("intent", string(d.Intent)).
		Str("target", d.TargetName()).
		Float64("confidence", d.Confidence).
		Dur("elapsed", elapsed).
		Msg("Turn resolved")

	resp := models.NewTurnResponse(sessionID, d)
	resp.Notes = finalized
	return resp, nil
}

// decide loads history, routes, gates and applies note side effects. It
// runs under the session lock.
func (s *Service) decide(ctx context.Context, sessionID, text string) (*models.RoutingDecision, []models.Note) {
	hist, err := s.history.Recent(ctx, sessionID, s.window)
	if err != nil && !errors.Is(err, sessions.ErrNotFound) {
		log.Error().Err(err).Str("session", sessionID).Msg("Failed to load session history")
		return infraError(fmt.Errorf("load history: %w", err)), nil
	}

	d := s.guard.Gate(s.resolver.Resolve(ctx, text, hist))
	if d.Action != models.ActionNote || d.Note == nil {
		return d, nil
	}

	finalized, err := s.notes.Apply(ctx, sessionID, *d.Note)
	switch {
	case errors.Is(err, notes.ErrNoOpenSession):
		d.Reason = err.Error()
		return d, nil
	case err != nil:
		log.Error().Err(err).Str("session", sessionID).Msg("Failed to apply note command")
		return infraError(fmt.Errorf("apply note: %w", err)), nil
	}
	if d.Note.Op != models.NoteEnd {
		return d, nil
	}
	return d, finalized
}

func infraError(err error) *models.RoutingDecision {
	return &models.RoutingDecision{
		Action:       models.ActionInfraError,
		Intent:       models.IntentNone,
		MissingSlots: []models.Slot{},
		Reason:       err.Error(),
	}
}
