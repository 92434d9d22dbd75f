// Package router implements the ScenePilot decision router.
//
// The router runs intent classification, entity resolution and value
// extraction side by side, aggregates their confidences and moves through
// Start → Classify → Aggregate → {Act | Clarify | Retrieve}. Retrieval either
// grounds an answer or ends in a refusal. Every outcome, infrastructure
// failures included, is a RoutingDecision; the router never returns an error.
package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/scenepilot/scenepilot/internal/confidence"
	"github.com/scenepilot/scenepilot/internal/intent"
	"github.com/scenepilot/scenepilot/internal/rag"
	"github.com/scenepilot/scenepilot/internal/resolver"
	"github.com/scenepilot/scenepilot/internal/textnorm"
	"github.com/scenepilot/scenepilot/internal/values"
	"github.com/scenepilot/scenepilot/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("scenepilot-router")

// Config holds the routing thresholds.
type Config struct {
	ActThreshold        float64       // act at or above this aggregate confidence
	RecognizeThreshold  float64       // clarify only above this intent confidence
	CarryoverConfidence float64       // confidence of slots bound from the previous turn
	RetrievalTimeout    time.Duration // bound on the retrieval call
	TopK                int
}

// DefaultConfig returns the tuned thresholds.
func DefaultConfig() Config {
	return Config{
		ActThreshold:        0.7,
		RecognizeThreshold:  0.5,
		CarryoverConfidence: 0.9,
		RetrievalTimeout:    2 * time.Second,
		TopK:                5,
	}
}

// SnapshotSource hands out the current catalog snapshot.
type SnapshotSource interface {
	Snapshot() (*catalog.Snapshot, error)
}

// Retriever grounds free-form questions.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]models.FusedResult, error)
}

// Router is safe for concurrent use. It holds no per-session state: history
// is passed in with every call.
type Router struct {
	cfg        Config
	catalog    SnapshotSource
	classifier *intent.Classifier
	resolver   *resolver.Resolver
	aggregator *confidence.Aggregator
	retriever  Retriever
}

// New creates a decision router. retriever may be nil, in which case every
// retrieval ends as an infrastructure error.
func New(cfg Config, src SnapshotSource, cls *intent.Classifier, res *resolver.Resolver, agg *confidence.Aggregator, retriever Retriever) *Router {
	return &Router{
		cfg:        cfg,
		catalog:    src,
		classifier: cls,
		resolver:   res,
		aggregator: agg,
		retriever:  retriever,
	}
}

// turn carries the joined outputs of one utterance through the state machine.
type turn struct {
	text       string
	snap       *catalog.Snapshot
	intent     models.ParsedIntent
	resolution resolver.Resolution
	raw        values.Raw
	entity     *models.ResolvedEntity
	target     *models.CanonicalEntity
	value      models.ParsedValue
	agg        confidence.Aggregation
	carried    bool
}

// Resolve turns one utterance into a decision. history is the session's
// completed turns, oldest first.
func (r *Router) Resolve(ctx context.Context, text string, history []models.ConversationTurn) *models.RoutingDecision {
	snap, err := r.catalog.Snapshot()
	if err != nil {
		return infraError(models.IntentNone, fmt.Errorf("catalog: %w", err))
	}

	t := &turn{text: text, snap: snap}
	r.classify(ctx, t)

	if r.carryOver(t, history) {
		log.Debug().Str("target", t.target.Name).Msg("Value carried over from previous turn")
	} else if t.intent.Label == models.IntentNone && textnorm.IsBareValue(text) {
		return r.bareValue(t)
	}

	t.value = r.bindValue(t)
	t.agg = r.aggregator.Aggregate(t.intent, t.entity, t.target, t.value)

	switch {
	case t.resolution.Ambiguous && t.intent.Confidence > r.cfg.RecognizeThreshold && needsEntity(t.intent.Label):
		return r.clarifyAmbiguous(t)
	case t.agg.Complete() && t.agg.Confidence >= r.cfg.ActThreshold:
		return r.act(ctx, t)
	case t.agg.Complete() && t.agg.Confidence > r.cfg.RecognizeThreshold:
		return r.confirm(t)
	case !t.agg.Complete() && t.intent.Confidence > r.cfg.RecognizeThreshold:
		return r.clarify(t)
	default:
		return r.retrieve(ctx, t, t.intent.Label)
	}
}

// classify runs the three independent readers of the utterance and joins them.
func (r *Router) classify(ctx context.Context, t *turn) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t.intent = r.classifier.Classify(gctx, t.snap, t.text)
		return nil
	})
	g.Go(func() error {
		t.resolution = r.resolver.Resolve(gctx, t.snap, t.text)
		return nil
	})
	g.Go(func() error {
		t.raw = values.Extract(t.text)
		return nil
	})
	_ = g.Wait()

	if t.resolution.Entity != nil {
		if e, ok := t.snap.Entity(t.resolution.Entity.CanonicalName); ok {
			t.entity = t.resolution.Entity
			t.target = &e
		}
	}
}

// carryOver binds a bare value to the entity of the previous turn when that
// turn asked for a size or a value of a ranged entity.
func (r *Router) carryOver(t *turn, history []models.ConversationTurn) bool {
	if t.intent.Label != models.IntentNone || !textnorm.IsBareValue(t.text) || len(history) == 0 {
		return false
	}
	prev := history[len(history)-1]
	if prev.ResolvedIntent != models.IntentSizeRequest && prev.ResolvedIntent != models.IntentControlValue {
		return false
	}
	e, ok := t.snap.Entity(prev.ResolvedEntity)
	if !ok || !e.Ranged() {
		return false
	}
	t.intent = models.ParsedIntent{
		Label:      prev.ResolvedIntent,
		Confidence: r.cfg.CarryoverConfidence,
		Match:      models.MatchCarry,
	}
	t.entity = &models.ResolvedEntity{
		CanonicalName:      e.Name,
		Confidence:         r.cfg.CarryoverConfidence,
		MatchedSurfaceForm: prev.ResolvedEntity,
	}
	t.target = &e
	t.carried = true
	return true
}

// bindValue reads the extracted numbers against the target. Intents that
// never take a value skip binding.
func (r *Router) bindValue(t *turn) models.ParsedValue {
	switch t.intent.Label {
	case models.IntentControlOn, models.IntentControlOff, models.IntentControlToggle,
		models.IntentControlValue, models.IntentSizeRequest:
		if t.target == nil {
			return models.NoValue()
		}
		return values.Bind(t.raw, t.target, t.intent.Label)
	}
	return models.NoValue()
}

// ── Act ─────────────────────────────────────────────────────

type actFunc func(r *Router, ctx context.Context, t *turn) *models.RoutingDecision

var actions = map[models.IntentLabel]actFunc{
	models.IntentControlOn:      (*Router).actTool,
	models.IntentControlOff:     (*Router).actTool,
	models.IntentControlToggle:  (*Router).actTool,
	models.IntentControlValue:   (*Router).actTool,
	models.IntentSizeRequest:    (*Router).actSize,
	models.IntentInfoDefinition: (*Router).actDefinition,
	models.IntentInfoLocation:   (*Router).actLocation,
	models.IntentNoteStart:      (*Router).actNote,
	models.IntentNoteAdd:        (*Router).actNote,
	models.IntentNoteEnd:        (*Router).actNote,
}

func (r *Router) act(ctx context.Context, t *turn) *models.RoutingDecision {
	fn, ok := actions[t.intent.Label]
	if !ok {
		return r.retrieve(ctx, t, t.intent.Label)
	}
	return fn(r, ctx, t)
}

func (r *Router) decision(t *turn, action models.Action) *models.RoutingDecision {
	d := &models.RoutingDecision{
		Action:       action,
		Intent:       t.intent.Label,
		Target:       t.target,
		Confidence:   t.agg.Confidence,
		MissingSlots: []models.Slot{},
		CarriedOver:  t.carried,
	}
	if t.value.Present() {
		v := t.value
		d.Value = &v
	}
	return d
}

func (r *Router) actTool(_ context.Context, t *turn) *models.RoutingDecision {
	return r.decision(t, models.ActionTool)
}

func (r *Router) actSize(_ context.Context, t *turn) *models.RoutingDecision {
	if t.value.Present() && t.value.Valid {
		return r.decision(t, models.ActionTool)
	}
	d := r.decision(t, models.ActionSizeRequest)
	d.MissingSlots = []models.Slot{models.SlotValue}
	d.Clarification = &models.Clarification{
		Slot:     models.SlotValue,
		Question: sizeQuestion(t.target),
		Ranges:   sizeRanges(t.target),
	}
	return d
}

func (r *Router) actDefinition(ctx context.Context, t *turn) *models.RoutingDecision {
	if t.target == nil || t.target.Definition == "" {
		return r.retrieve(ctx, t, models.IntentInfoDefinition)
	}
	d := r.decision(t, models.ActionInfo)
	d.Answer = t.target.Definition
	return d
}

func (r *Router) actLocation(ctx context.Context, t *turn) *models.RoutingDecision {
	if t.target == nil || t.target.Location == "" {
		return r.retrieve(ctx, t, models.IntentInfoLocation)
	}
	d := r.decision(t, models.ActionInfo)
	d.Answer = locationAnswer(t.target)
	return d
}

var noteOps = map[models.IntentLabel]models.NoteOp{
	models.IntentNoteStart: models.NoteStart,
	models.IntentNoteAdd:   models.NoteAdd,
	models.IntentNoteEnd:   models.NoteEnd,
}

func (r *Router) actNote(_ context.Context, t *turn) *models.RoutingDecision {
	cmd := &models.NoteCommand{Op: noteOps[t.intent.Label]}
	if cmd.Op == models.NoteAdd {
		cmd.Text = noteText(t.text, t.intent.Trigger)
		if cmd.Text == "" {
			d := r.decision(t, models.ActionClarification)
			d.Confidence = 0
			d.MissingSlots = []models.Slot{models.SlotValue}
			d.Clarification = &models.Clarification{
				Slot:     models.SlotValue,
				Question: "What would you like me to note?",
			}
			return d
		}
	}
	d := r.decision(t, models.ActionNote)
	d.Target = nil
	d.Note = cmd
	return d
}

// noteText returns what follows the trigger phrase in the raw utterance.
func noteText(text, trigger string) string {
	words := strings.Fields(trigger)
	if len(words) == 0 {
		return strings.TrimSpace(text)
	}
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(`(?i)\b` + strings.Join(words, `\b.*?\b`) + `\b[\s:,.\-]*(.*)$`)
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ── Clarify ─────────────────────────────────────────────────

func needsEntity(label models.IntentLabel) bool {
	req := confidence.RequirementFor(label)
	for _, s := range append(req.Required, req.Optional...) {
		if s == models.SlotEntity {
			return true
		}
	}
	return false
}

func (r *Router) clarification(t *turn, c *models.Clarification) *models.RoutingDecision {
	d := r.decision(t, models.ActionClarification)
	d.Confidence = 0
	d.MissingSlots = t.agg.Missing
	if len(d.MissingSlots) == 0 {
		d.MissingSlots = []models.Slot{c.Slot}
	}
	d.Clarification = c
	return d
}

// clarify asks about exactly one missing slot, entity before value.
func (r *Router) clarify(t *turn) *models.RoutingDecision {
	missing := make(map[models.Slot]bool, len(t.agg.Missing))
	for _, s := range t.agg.Missing {
		missing[s] = true
	}
	if missing[models.SlotEntity] {
		return r.clarification(t, entityClarification(t.snap, t.intent.Label, t.resolution))
	}
	return r.clarification(t, valueClarification(t.target, t.value))
}

func (r *Router) clarifyAmbiguous(t *turn) *models.RoutingDecision {
	t.agg.Missing = models.SortSlots(appendSlot(t.agg.Missing, models.SlotEntity))
	return r.clarification(t, entityClarification(t.snap, t.intent.Label, t.resolution))
}

// confirm asks the user to confirm a complete but uncertain interpretation.
func (r *Router) confirm(t *turn) *models.RoutingDecision {
	d := r.decision(t, models.ActionClarification)
	d.MissingSlots = []models.Slot{models.SlotConfirmation}
	d.Clarification = &models.Clarification{
		Slot:     models.SlotConfirmation,
		Question: fmt.Sprintf("Did you mean: %s?", interpretation(t)),
		Options:  []string{"yes", "no"},
	}
	return d
}

// bareValue handles a lone value with nothing to bind it to.
func (r *Router) bareValue(t *turn) *models.RoutingDecision {
	d := &models.RoutingDecision{
		Action:       models.ActionClarification,
		Intent:       models.IntentNone,
		MissingSlots: []models.Slot{models.SlotEntity},
	}
	v := values.Bind(t.raw, nil, models.IntentNone)
	if v.Present() {
		d.Value = &v
	}
	var opts []string
	for _, e := range t.snap.Entities() {
		if e.Ranged() {
			opts = append(opts, e.DisplayName())
		}
	}
	d.Clarification = &models.Clarification{
		Slot:     models.SlotEntity,
		Question: fmt.Sprintf("What should I apply %q to?", strings.TrimSpace(t.text)),
		Options:  opts,
	}
	return d
}

var entityQuestions = map[models.IntentLabel]string{
	models.IntentControlOn:      "What should I turn on?",
	models.IntentControlOff:     "What should I turn off?",
	models.IntentControlToggle:  "What should I toggle?",
	models.IntentControlValue:   "What should I adjust?",
	models.IntentSizeRequest:    "Which item should I size?",
	models.IntentInfoLocation:   "Which element are you looking for?",
	models.IntentInfoDefinition: "Which element should I explain?",
}

func entityClarification(snap *catalog.Snapshot, label models.IntentLabel, res resolver.Resolution) *models.Clarification {
	c := &models.Clarification{Slot: models.SlotEntity}
	if res.Ambiguous {
		for _, cand := range res.Candidates {
			if e, ok := snap.Entity(cand.Name); ok {
				c.Options = append(c.Options, e.DisplayName())
			}
		}
		c.Question = "Did you mean " + joinOr(c.Options) + "?"
		return c
	}
	for _, e := range snap.Entities() {
		if fitsIntent(e, label) {
			c.Options = append(c.Options, e.DisplayName())
		}
	}
	c.Question = entityQuestions[label]
	if c.Question == "" {
		c.Question = "Which element do you mean?"
	}
	return c
}

func fitsIntent(e models.CanonicalEntity, label models.IntentLabel) bool {
	switch label {
	case models.IntentControlOn, models.IntentControlOff, models.IntentControlToggle:
		return e.Kind == models.EntitySwitch
	case models.IntentControlValue:
		return e.Kind == models.EntityValue
	case models.IntentSizeRequest:
		return e.Sized()
	case models.IntentInfoLocation:
		return e.Location != ""
	case models.IntentInfoDefinition:
		return e.Definition != ""
	}
	return true
}

func valueClarification(target *models.CanonicalEntity, v models.ParsedValue) *models.Clarification {
	c := &models.Clarification{Slot: models.SlotValue}
	var ask string
	switch {
	case target == nil:
		ask = "What value should I use?"
	case target.Sized():
		ask = sizeQuestion(target)
		c.Ranges = sizeRanges(target)
	default:
		if rg, ok := target.ValueRange(); ok {
			ask = fmt.Sprintf("What should I set %s to? Choose a value between %s.", target.DisplayName(), rg)
			c.Ranges = map[string]models.Range{models.AxisValue: rg}
		} else {
			ask = fmt.Sprintf("What should I do with %s?", target.DisplayName())
		}
	}
	if v.Present() && !v.Valid && v.Reason != "" {
		ask = capitalize(v.Reason) + ". " + ask
	}
	c.Question = ask
	return c
}

func sizeQuestion(target *models.CanonicalEntity) string {
	if target == nil {
		return "What size do you need?"
	}
	hr, lr := target.Ranges[models.AxisHeight], target.Ranges[models.AxisLength]
	unit := ""
	if target.Unit != "" {
		unit = " " + target.Unit
	}
	return fmt.Sprintf("What size of %s do you need? Height %s%s and length %s%s, for example %s x %s.",
		target.DisplayName(), hr, unit, lr, unit,
		models.FormatNumber(hr.Min), models.FormatNumber(lr.Min))
}

func sizeRanges(target *models.CanonicalEntity) map[string]models.Range {
	if target == nil {
		return nil
	}
	return map[string]models.Range{
		models.AxisHeight: target.Ranges[models.AxisHeight],
		models.AxisLength: target.Ranges[models.AxisLength],
	}
}

func interpretation(t *turn) string {
	var parts []string
	switch t.intent.Label {
	case models.IntentControlOn:
		parts = append(parts, "turn on")
	case models.IntentControlOff:
		parts = append(parts, "turn off")
	case models.IntentControlToggle:
		parts = append(parts, "toggle")
	case models.IntentControlValue:
		parts = append(parts, "set")
		if t.value.Unit == models.UnitDelta {
			parts[0] = "adjust"
		}
	default:
		parts = append(parts, strings.ReplaceAll(string(t.intent.Label), "_", " "))
	}
	if t.target != nil {
		parts = append(parts, t.target.DisplayName())
	}
	if t.value.Present() && t.value.Kind != models.ValueSwitch {
		prep := "to"
		if t.value.Unit == models.UnitDelta {
			prep = "by"
		}
		parts = append(parts, prep, t.value.String())
	}
	return strings.Join(parts, " ")
}

// ── Retrieve ────────────────────────────────────────────────

func (r *Router) retrieve(ctx context.Context, t *turn, label models.IntentLabel) *models.RoutingDecision {
	if r.retriever == nil {
		return infraError(label, rag.ErrIndexUnavailable)
	}
	ctx, span := tracer.Start(ctx, "router.retrieve")
	defer span.End()

	results, err := r.boundedRetrieve(ctx, t.text)
	span.SetAttributes(attribute.Int("retrieval.results", len(results)))

	d := r.decision(t, models.ActionRefusal)
	d.Intent = label
	switch {
	case errors.Is(err, rag.ErrIndexUnavailable):
		return infraError(label, err)
	case errors.Is(err, context.DeadlineExceeded):
		d.Reason = "retrieval timed out"
		return d
	case err != nil:
		log.Warn().Err(err).Msg("Retrieval failed")
		d.Reason = "retrieval failed"
		return d
	case len(results) == 0:
		d.Reason = "no relevant knowledge"
		return d
	}
	d.Action = models.ActionInfo
	d.Sources = results
	return d
}

type retrieval struct {
	results []models.FusedResult
	err     error
}

// boundedRetrieve returns once the retriever answers or RetrievalTimeout
// passes, whichever comes first, even if the index ignores cancellation.
func (r *Router) boundedRetrieve(ctx context.Context, query string) ([]models.FusedResult, error) {
	rctx, cancel := context.WithTimeout(ctx, r.cfg.RetrievalTimeout)
	defer cancel()

	done := make(chan retrieval, 1)
	go func() {
		results, err := r.retriever.Retrieve(rctx, query, r.cfg.TopK)
		done <- retrieval{results, err}
	}()
	select {
	case out := <-done:
		return out.results, out.err
	case <-rctx.Done():
		return nil, rctx.Err()
	}
}

func infraError(label models.IntentLabel, err error) *models.RoutingDecision {
	log.Error().Err(err).Msg("Infrastructure failure during routing")
	return &models.RoutingDecision{
		Action:       models.ActionInfraError,
		Intent:       label,
		MissingSlots: []models.Slot{},
		Reason:       err.Error(),
	}
}

// ── Helpers ─────────────────────────────────────────────────

// locationAnswer phrases a catalog location: "The skull model is on the left."
func locationAnswer(e *models.CanonicalEntity) string {
	loc := strings.TrimSpace(e.Location)
	var where string
	switch {
	case loc == "center" || loc == "centre" || loc == "middle":
		where = "in the center"
	case strings.Contains(loc, " "):
		where = loc
	default:
		where = "on the " + loc
	}
	name := e.DisplayName()
	verb := "is"
	if strings.HasSuffix(name, "s") && !strings.HasSuffix(name, "ss") {
		verb = "are"
	}
	return fmt.Sprintf("The %s %s %s.", name, verb, where)
}

func joinOr(opts []string) string {
	switch len(opts) {
	case 0:
		return ""
	case 1:
		return opts[0]
	}
	return strings.Join(opts[:len(opts)-1], ", ") + " or " + opts[len(opts)-1]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func appendSlot(slots []models.Slot, s models.Slot) []models.Slot {
	for _, x := range slots {
		if x == s {
			return slots
		}
	}
	return append(slots, s)
}
