// Package catalog holds the authoritative vocabulary of the scene: the
// canonical entities the user can address, their synonyms, ranges, locations
// and definitions, plus the trigger phrases of every intent.
//
// A catalog is loaded from YAML, validated against an embedded JSON Schema and
// then frozen into an immutable Snapshot. Requests read one snapshot from the
// Provider; reloads replace the snapshot as a whole, so a request never observes
// a partially updated catalog.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/scenepilot/scenepilot/internal/textnorm"
	"github.com/scenepilot/scenepilot/pkg/models"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed data/scene.yaml
var defaultCatalog []byte

//go:embed data/schema.json
var schemaJSON []byte

var schema = gojsonschema.NewBytesLoader(schemaJSON)

// ErrNoSnapshot is returned when no catalog has been loaded yet.
var ErrNoSnapshot = errors.New("catalog: no snapshot loaded")

// ── Document ────────────────────────────────────────────────

// Document is the on-disk shape of a catalog.
type Document struct {
	Version  string               `yaml:"version" json:"version"`
	Entities []EntityDoc          `yaml:"entities" json:"entities"`
	Intents  map[string]IntentDoc `yaml:"intents" json:"intents"`
}

// EntityDoc is one entity entry of a Document.
type EntityDoc struct {
	Name       string                  `yaml:"name" json:"name"`
	Kind       string                  `yaml:"kind" json:"kind"`
	Label      string                  `yaml:"label,omitempty" json:"label,omitempty"`
	Synonyms   []string                `yaml:"synonyms" json:"synonyms"`
	Location   string                  `yaml:"location,omitempty" json:"location,omitempty"`
	Definition string                  `yaml:"definition,omitempty" json:"definition,omitempty"`
	Unit       string                  `yaml:"unit,omitempty" json:"unit,omitempty"`
	Ranges     map[string]models.Range `yaml:"ranges,omitempty" json:"ranges,omitempty"`
}

// IntentDoc lists the trigger phrases and semantic exemplars of one intent.
type IntentDoc struct {
	Triggers  []string `yaml:"triggers" json:"triggers"`
	Exemplars []string `yaml:"exemplars,omitempty" json:"exemplars,omitempty"`
}

// ── Snapshot ────────────────────────────────────────────────

// SurfaceForm is one canonicalized way of naming an entity.
type SurfaceForm struct {
	Entity string   // canonical entity name
	Text   string   // synonym as written in the catalog
	Tokens []string // content tokens of Text
}

// Trigger is one canonicalized intent trigger phrase.
type Trigger struct {
	Label  models.IntentLabel
	Text   string
	Tokens []string
}

// Snapshot is an immutable, validated catalog.
type Snapshot struct {
	Version  string
	LoadedAt time.Time

	entities  []models.CanonicalEntity
	index     map[string]int
	forms     []SurfaceForm
	triggers  []Trigger
	exemplars map[models.IntentLabel][]string
}

// Entity looks up an entity by canonical name.
func (s *Snapshot) Entity(name string) (models.CanonicalEntity, bool) {
	i, ok := s.index[name]
	if !ok {
		return models.CanonicalEntity{}, false
	}
	return s.entities[i], true
}

// Entities returns all entities sorted by name.
func (s *Snapshot) Entities() []models.CanonicalEntity {
	out := make([]models.CanonicalEntity, len(s.entities))
	copy(out, s.entities)
	return out
}

// SurfaceForms returns every synonym of every entity, longest first.
func (s *Snapshot) SurfaceForms() []SurfaceForm { return s.forms }

// Triggers returns every intent trigger phrase.
func (s *Snapshot) Triggers() []Trigger { return s.triggers }

// Exemplars returns the semantic exemplars of each label.
func (s *Snapshot) Exemplars() map[models.IntentLabel][]string { return s.exemplars }

// Lookup maps a surface form (any casing or punctuation) to its entity.
func (s *Snapshot) Lookup(surface string) (models.CanonicalEntity, bool) {
	want := strings.Join(textnorm.ContentPhrase(surface), " ")
	if want == "" {
		return models.CanonicalEntity{}, false
	}
	for _, f := range s.forms {
		if strings.Join(f.Tokens, " ") == want {
			return s.Entity(f.Entity)
		}
	}
	return models.CanonicalEntity{}, false
}

// ── Loading ─────────────────────────────────────────────────

// LoadDefault loads the embedded dental-scene catalog.
func LoadDefault() (*Snapshot, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile loads a catalog from disk.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes, validates and freezes a catalog document.
func Load(r io.Reader) (*Snapshot, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := validateSchema(generic); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return Build(doc)
}

// ValidationError lists every schema or semantic violation of a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid catalog: " + strings.Join(e.Problems, "; ")
}

func validateSchema(doc map[string]interface{}) error {
	res, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate catalog: %w", err)
	}
	if res.Valid() {
		return nil
	}
	verr := &ValidationError{}
	for _, e := range res.Errors() {
		verr.Problems = append(verr.Problems, e.String())
	}
	return verr
}

// Build freezes a decoded document after enforcing the rules a schema cannot
// express: unique names, synonyms that identify exactly one entity, ordered
// ranges and the ranges each kind requires.
func Build(doc Document) (*Snapshot, error) {
	verr := &ValidationError{}
	snap := &Snapshot{
		Version:   doc.Version,
		LoadedAt:  time.Now().UTC(),
		index:     make(map[string]int, len(doc.Entities)),
		exemplars: make(map[models.IntentLabel][]string),
	}

	owner := make(map[string]string) // canonical synonym -> entity
	for _, ed := range doc.Entities {
		if _, dup := snap.index[ed.Name]; dup {
			verr.Problems = append(verr.Problems, fmt.Sprintf("duplicate entity %q", ed.Name))
			continue
		}
		e := models.CanonicalEntity{
			Name:       ed.Name,
			Kind:       models.EntityKind(ed.Kind),
			Label:      ed.Label,
			Location:   ed.Location,
			Definition: strings.TrimSpace(ed.Definition),
			Unit:       ed.Unit,
			Ranges:     ed.Ranges,
		}
		for axis, rg := range ed.Ranges {
			if rg.Min > rg.Max {
				verr.Problems = append(verr.Problems, fmt.Sprintf("%s: %s range min > max", ed.Name, axis))
			}
		}
		switch e.Kind {
		case models.EntityValue:
			if _, ok := e.ValueRange(); !ok {
				verr.Problems = append(verr.Problems, fmt.Sprintf("%s: value entity without value range", ed.Name))
			}
		case models.EntityObject:
			_, h := ed.Ranges[models.AxisHeight]
			_, l := ed.Ranges[models.AxisLength]
			if h != l {
				verr.Problems = append(verr.Problems, fmt.Sprintf("%s: sized object needs both height and length", ed.Name))
			}
		}

		names := append([]string{strings.ReplaceAll(ed.Name, "_", " ")}, ed.Synonyms...)
		for _, syn := range names {
			toks := textnorm.ContentPhrase(syn)
			if len(toks) == 0 {
				continue
			}
			key := strings.Join(toks, " ")
			if prev, taken := owner[key]; taken {
				if prev != ed.Name {
					verr.Problems = append(verr.Problems,
						fmt.Sprintf("synonym %q names both %s and %s", syn, prev, ed.Name))
				}
				continue
			}
			owner[key] = ed.Name
			e.Synonyms = append(e.Synonyms, syn)
			snap.forms = append(snap.forms, SurfaceForm{Entity: ed.Name, Text: syn, Tokens: toks})
		}

		snap.index[ed.Name] = len(snap.entities)
		snap.entities = append(snap.entities, e)
	}

	for label, idoc := range doc.Intents {
		l := models.IntentLabel(label)
		if !l.Valid() || l == models.IntentNone {
			verr.Problems = append(verr.Problems, fmt.Sprintf("unknown intent %q", label))
			continue
		}
		for _, t := range idoc.Triggers {
			toks := textnorm.Tokens(t)
			if len(toks) == 0 {
				continue
			}
			snap.triggers = append(snap.triggers, Trigger{Label: l, Text: t, Tokens: toks})
		}
		if len(idoc.Exemplars) > 0 {
			snap.exemplars[l] = append([]string(nil), idoc.Exemplars...)
		}
	}

	if len(verr.Problems) > 0 {
		return nil, verr
	}

	sort.Slice(snap.entities, func(i, j int) bool { return snap.entities[i].Name < snap.entities[j].Name })
	for i, e := range snap.entities {
		snap.index[e.Name] = i
	}
	sort.SliceStable(snap.forms, func(i, j int) bool {
		a, b := snap.forms[i], snap.forms[j]
		if len(a.Tokens) != len(b.Tokens) {
			return len(a.Tokens) > len(b.Tokens)
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Text < b.Text
	})
	sort.SliceStable(snap.triggers, func(i, j int) bool {
		a, b := snap.triggers[i], snap.triggers[j]
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.Text < b.Text
	})
	return snap, nil
}
