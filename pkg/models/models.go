// Package models defines the core domain types shared across the ScenePilot
// decision service: the entity catalog vocabulary, the per-stage pipeline
// results, the routing decision and the retrieval records.
package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ── Entity Catalog ──────────────────────────────────────────

// EntityKind classifies how a scene element can be controlled.
type EntityKind string

const (
	EntitySwitch EntityKind = "switch" // on/off/toggle overlays and tools
	EntityValue  EntityKind = "value"  // single numeric control (brightness, contrast)
	EntityObject EntityKind = "object" // placeable or locatable scene objects
)

// Range axes used by CanonicalEntity.Ranges.
const (
	AxisValue  = "value"
	AxisHeight = "height"
	AxisLength = "length"
)

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies inside the inclusive range.
func (r Range) Contains(v float64) bool {
	const tol = 1e-9
	return v >= r.Min-tol && v <= r.Max+tol
}

// String renders the range as "min–max" without trailing zeros.
func (r Range) String() string {
	return FormatNumber(r.Min) + "–" + FormatNumber(r.Max)
}

// CanonicalEntity is one authoritative scene element. Loaded once per catalog
// snapshot and never mutated at request time.
type CanonicalEntity struct {
	Name       string           `json:"name"`
	Kind       EntityKind       `json:"kind"`
	Label      string           `json:"label,omitempty"` // friendly name for messages
	Synonyms   []string         `json:"synonyms"`
	Location   string           `json:"location,omitempty"`
	Definition string           `json:"definition,omitempty"`
	Unit       string           `json:"unit,omitempty"` // display unit, e.g. "mm"
	Ranges     map[string]Range `json:"ranges,omitempty"`
}

// DisplayName returns the friendly label, falling back to the canonical name.
func (e CanonicalEntity) DisplayName() string {
	if e.Label != "" {
		return e.Label
	}
	return e.Name
}

// ValueRange returns the single-axis range of a value control.
func (e CanonicalEntity) ValueRange() (Range, bool) {
	r, ok := e.Ranges[AxisValue]
	return r, ok
}

// Sized reports whether the entity is selected by a height × length dimension.
func (e CanonicalEntity) Sized() bool {
	_, h := e.Ranges[AxisHeight]
	_, l := e.Ranges[AxisLength]
	return h && l
}

// Ranged reports whether the entity accepts any numeric value.
func (e CanonicalEntity) Ranged() bool {
	_, ok := e.ValueRange()
	return ok || e.Sized()
}

// ── Intents ─────────────────────────────────────────────────

// IntentLabel is the closed set of intents the classifier can emit.
type IntentLabel string

const (
	IntentControlOn      IntentLabel = "control_on"
	IntentControlOff     IntentLabel = "control_off"
	IntentControlToggle  IntentLabel = "control_toggle"
	IntentControlValue   IntentLabel = "control_value"
	IntentInfoDefinition IntentLabel = "info_definition"
	IntentInfoLocation   IntentLabel = "info_location"
	IntentSizeRequest    IntentLabel = "size_request"
	IntentNoteStart      IntentLabel = "note_start"
	IntentNoteAdd        IntentLabel = "note_add"
	IntentNoteEnd        IntentLabel = "note_end"
	IntentNone           IntentLabel = "none"
)

// IntentLabels lists every recognizable label (IntentNone excluded) in a
// fixed order.
var IntentLabels = []IntentLabel{
	IntentControlOn, IntentControlOff, IntentControlToggle, IntentControlValue,
	IntentInfoDefinition, IntentInfoLocation, IntentSizeRequest,
	IntentNoteStart, IntentNoteAdd, IntentNoteEnd,
}

// Valid reports whether l is a known label.
func (l IntentLabel) Valid() bool {
	if l == IntentNone {
		return true
	}
	for _, k := range IntentLabels {
		if k == l {
			return true
		}
	}
	return false
}

// MatchKind records how an intent was recognized.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchFuzzy    MatchKind = "fuzzy"
	MatchSemantic MatchKind = "semantic"
	MatchCarry    MatchKind = "carryover"
	MatchNone     MatchKind = "none"
)

// ParsedIntent is the classifier output.
type ParsedIntent struct {
	Label      IntentLabel `json:"label"`
	Confidence float64     `json:"confidence"`
	Match      MatchKind   `json:"match,omitempty"`
	Trigger    string      `json:"trigger,omitempty"` // phrase that fired, if any
}

// NoIntent is the unrecognized result.
func NoIntent() ParsedIntent {
	return ParsedIntent{Label: IntentNone, Confidence: 0, Match: MatchNone}
}

// ── Entities ────────────────────────────────────────────────

// ResolvedEntity references an entry of the catalog snapshot it was resolved
// against.
type ResolvedEntity struct {
	CanonicalName      string  `json:"canonical_name"`
	Confidence         float64 `json:"confidence"`
	MatchedSurfaceForm string  `json:"matched_surface_form"`
}

// ── Values ──────────────────────────────────────────────────

// ValueKind tags the ParsedValue variant.
type ValueKind string

const (
	ValueNone      ValueKind = "none"
	ValueScalar    ValueKind = "scalar"
	ValueDimension ValueKind = "dimension"
	ValueSwitch    ValueKind = "switch"
)

// Unit of a scalar value.
type Unit string

const (
	UnitPercent  Unit = "percent"
	UnitAbsolute Unit = "absolute"
	UnitDelta    Unit = "delta" // signed change relative to the current level
)

// SwitchState is the value carried by switch commands.
type SwitchState string

const (
	SwitchOn     SwitchState = "on"
	SwitchOff    SwitchState = "off"
	SwitchToggle SwitchState = "toggle"
)

// ParsedValue is a tagged variant: exactly the fields of its Kind are
// meaningful. Invalid values stay values; Reason explains why.
type ParsedValue struct {
	Kind       ValueKind   `json:"kind"`
	Number     float64     `json:"number,omitempty"`
	Unit       Unit        `json:"unit,omitempty"`
	Height     float64     `json:"height,omitempty"`
	Length     float64     `json:"length,omitempty"`
	State      SwitchState `json:"state,omitempty"`
	Valid      bool        `json:"valid"`
	Confidence float64     `json:"confidence"`
	Reason     string      `json:"reason,omitempty"`
	Raw        string      `json:"raw,omitempty"`
}

// NoValue is the empty variant.
func NoValue() ParsedValue { return ParsedValue{Kind: ValueNone} }

// Scalar builds a scalar variant.
func Scalar(n float64, u Unit) ParsedValue {
	return ParsedValue{Kind: ValueScalar, Number: n, Unit: u}
}

// Dimension builds a two-axis implant size variant.
func Dimension(height, length float64) ParsedValue {
	return ParsedValue{Kind: ValueDimension, Height: height, Length: length}
}

// Switch builds a switch-state variant.
func Switch(s SwitchState) ParsedValue {
	return ParsedValue{Kind: ValueSwitch, State: s, Valid: true, Confidence: 1}
}

// Present reports whether the variant carries anything.
func (v ParsedValue) Present() bool { return v.Kind != "" && v.Kind != ValueNone }

// MissingAxis names the unfilled axis of a partial dimension, or "".
func (v ParsedValue) MissingAxis() string {
	if v.Kind != ValueDimension {
		return ""
	}
	switch {
	case v.Height == 0 && v.Length == 0:
		return AxisHeight + "," + AxisLength
	case v.Height == 0:
		return AxisHeight
	case v.Length == 0:
		return AxisLength
	}
	return ""
}

// String renders the value the way it is echoed back to users.
func (v ParsedValue) String() string {
	switch v.Kind {
	case ValueScalar:
		switch v.Unit {
		case UnitPercent:
			return FormatNumber(v.Number) + "%"
		case UnitDelta:
			if v.Number > 0 {
				return "+" + FormatNumber(v.Number)
			}
		}
		return FormatNumber(v.Number)
	case ValueDimension:
		return FormatNumber(v.Height) + " x " + FormatNumber(v.Length)
	case ValueSwitch:
		return string(v.State)
	default:
		return ""
	}
}

// FormatNumber prints a float without trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ── Routing ─────────────────────────────────────────────────

// Action is the closed set of routed outcomes.
type Action string

const (
	ActionTool          Action = "tool_action"
	ActionInfo          Action = "info_answer"
	ActionNote          Action = "note_action"
	ActionSizeRequest   Action = "size_request"
	ActionClarification Action = "clarification"
	ActionRefusal       Action = "refusal"
	ActionInfraError    Action = "infra_error"
)

// Actions lists every action tag.
var Actions = []Action{
	ActionTool, ActionInfo, ActionNote, ActionSizeRequest,
	ActionClarification, ActionRefusal, ActionInfraError,
}

// Slot names.
type Slot string

const (
	SlotIntent       Slot = "intent"
	SlotEntity       Slot = "entity"
	SlotValue        Slot = "value"
	SlotConfirmation Slot = "confirmation"
)

// SortSlots orders slots deterministically.
func SortSlots(s []Slot) []Slot {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s
}

// NoteOp is a note-taking operation.
type NoteOp string

const (
	NoteStart NoteOp = "start"
	NoteAdd   NoteOp = "add"
	NoteEnd   NoteOp = "end"
)

// NoteCommand is carried by note_action decisions.
type NoteCommand struct {
	Op   NoteOp `json:"op"`
	Text string `json:"text,omitempty"`
}

// Clarification is a targeted question about exactly one slot.
type Clarification struct {
	Slot     Slot             `json:"slot"`
	Question string           `json:"question"`
	Options  []string         `json:"options,omitempty"`
	Ranges   map[string]Range `json:"ranges,omitempty"`
}

// RoutingDecision is the derived, never persisted, output of the pipeline.
type RoutingDecision struct {
	Action        Action           `json:"action"`
	Intent        IntentLabel      `json:"intent"`
	Target        *CanonicalEntity `json:"target,omitempty"`
	Value         *ParsedValue     `json:"value,omitempty"`
	Confidence    float64          `json:"confidence"`
	MissingSlots  []Slot           `json:"missing_slots"`
	Clarification *Clarification   `json:"clarification,omitempty"`
	Note          *NoteCommand     `json:"note,omitempty"`
	Answer        string           `json:"answer,omitempty"` // catalog-grounded fact
	Sources       []FusedResult    `json:"sources,omitempty"`
	Reason        string           `json:"reason,omitempty"` // refusal / infra detail
	Message       string           `json:"message,omitempty"`
	CarriedOver   bool             `json:"carried_over,omitempty"`
}

// TargetName returns the target's canonical name or "".
func (d *RoutingDecision) TargetName() string {
	if d == nil || d.Target == nil {
		return ""
	}
	return d.Target.Name
}

// ── Conversation ────────────────────────────────────────────

// ConversationTurn is one completed turn of a session.
type ConversationTurn struct {
	Text           string      `json:"text"`
	ResolvedIntent IntentLabel `json:"resolved_intent"`
	ResolvedEntity string      `json:"resolved_entity,omitempty"`
	ResolvedAction Action      `json:"resolved_action"`
	Timestamp      time.Time   `json:"timestamp"`
}

// TurnFromDecision records a completed decision as a history entry.
func TurnFromDecision(text string, d *RoutingDecision, at time.Time) ConversationTurn {
	return ConversationTurn{
		Text:           text,
		ResolvedIntent: d.Intent,
		ResolvedEntity: d.TargetName(),
		ResolvedAction: d.Action,
		Timestamp:      at.UTC(),
	}
}

// ── Retrieval ───────────────────────────────────────────────

// RetrievalChunk is an ingested, immutable piece of knowledge-base text.
type RetrievalChunk struct {
	ID           string            `json:"id"`
	Text         string            `json:"text"`
	Embedding    []float64         `json:"embedding,omitempty"`
	DocumentID   string            `json:"document_id"`
	LexicalTerms []string          `json:"lexical_terms,omitempty"` // sorted, unique
	Metadata     map[string]string `json:"metadata,omitempty"`
	DocumentTime time.Time         `json:"document_time"` // recency of the source document
	CreatedAt    time.Time         `json:"created_at"`
}

// ScoredChunk is a chunk paired with the score of a single retrieval pass.
type ScoredChunk struct {
	Chunk RetrievalChunk `json:"chunk"`
	Score float64        `json:"score"`
}

// FusedResult is one ranked retrieval hit, computed per query.
type FusedResult struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	Text          string  `json:"text,omitempty"`
	SemanticScore float64 `json:"semantic_score"`
	LexicalScore  float64 `json:"lexical_score"`
	FusedScore    float64 `json:"fused_score"`
}

// ── Notes ───────────────────────────────────────────────────

// Note is one recorded note of a session.
type Note struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Finalized bool      `json:"finalized"`
	CreatedAt time.Time `json:"created_at"`
}

// ── Ingestion API ───────────────────────────────────────────

// RawDocument is one knowledge-base document submitted for ingestion.
type RawDocument struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at,omitempty"`
}

// IngestRequest is the input of the ingestion endpoint.
type IngestRequest struct {
	Documents    []RawDocument `json:"documents"`
	ChunkSize    int           `json:"chunk_size,omitempty"`
	ChunkOverlap int           `json:"chunk_overlap,omitempty"`
}

// IngestResult summarizes an ingestion run.
type IngestResult struct {
	DocumentsProcessed int `json:"documents_processed"`
	ChunksCreated      int `json:"chunks_created"`
	ChunksStored       int `json:"chunks_stored"`
}

// RetrievalQuery is the input of the retrieval debug endpoint.
type RetrievalQuery struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// RetrievalResult is the output of the retrieval debug endpoint.
type RetrievalResult struct {
	Results   []FusedResult `json:"results"`
	LatencyMs int64         `json:"latency_ms"`
}

// ── Turn API ────────────────────────────────────────────────

// TurnRequest is one utterance submitted for a session.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// TurnResponse is the serialized decision handed back to the client.
type TurnResponse struct {
	SessionID     string         `json:"session_id"`
	Action        Action         `json:"action"`
	Intent        IntentLabel    `json:"intent"`
	Target        string         `json:"target,omitempty"`
	Value         *ParsedValue   `json:"value,omitempty"`
	Confidence    float64        `json:"confidence"`
	MissingSlots  []Slot         `json:"missing_slots"`
	Clarification *Clarification `json:"clarification,omitempty"`
	Sources       []FusedResult  `json:"sources,omitempty"`
	Note          *NoteCommand   `json:"note,omitempty"`
	Notes         []Note         `json:"notes,omitempty"` // finalized notes on note end
	Message       string         `json:"message"`
}

// NewTurnResponse flattens a decision for serialization.
func NewTurnResponse(sessionID string, d *RoutingDecision) *TurnResponse {
	missing := d.MissingSlots
	if missing == nil {
		missing = []Slot{}
	}
	return &TurnResponse{
		SessionID:     sessionID,
		Action:        d.Action,
		Intent:        d.Intent,
		Target:        d.TargetName(),
		Value:         d.Value,
		Confidence:    d.Confidence,
		MissingSlots:  missing,
		Clarification: d.Clarification,
		Sources:       d.Sources,
		Note:          d.Note,
		Message:       d.Message,
	}
}

// Describe renders a compact one-line summary, used in logs and the CLI.
func (d *RoutingDecision) Describe() string {
	s := fmt.Sprintf("%s intent=%s conf=%.2f", d.Action, d.Intent, d.Confidence)
	if t := d.TargetName(); t != "" {
		s += " target=" + t
	}
	if d.Value != nil && d.Value.Present() {
		s += " value=" + d.Value.String()
	}
	if len(d.MissingSlots) > 0 {
		s += fmt.Sprintf(" missing=%v", d.MissingSlots)
	}
	return s
}
