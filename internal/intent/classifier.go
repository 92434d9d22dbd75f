// Package intent classifies an utterance into one of the fixed intent labels.
//
// Trigger phrases from the catalog are matched first: a contiguous match is
// exact, an in-order match with gaps is fuzzy. Only when no phrase matches at
// all does the classifier fall back to embedding similarity against the
// catalog's per-label exemplars. The result is deterministic for a given text
// and catalog snapshot.
package intent

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/scenepilot/scenepilot/internal/embeddings"
	"github.com/scenepilot/scenepilot/internal/textnorm"
	"github.com/scenepilot/scenepilot/pkg/contracts"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// Config holds the classifier's confidence levels.
type Config struct {
	ExactConfidence float64 // contiguous trigger match
	FuzzyConfidence float64 // in-order trigger match with gaps
	SemanticFloor   float64 // minimum exemplar similarity to accept
	SemanticScale   float64 // similarity -> confidence factor
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		ExactConfidence: 0.9,
		FuzzyConfidence: 0.75,
		SemanticFloor:   0.6,
		SemanticScale:   0.85,
	}
}

// Classifier is safe for concurrent use.
type Classifier struct {
	cfg      Config
	embedder contracts.EmbeddingDriver // nil disables the semantic fallback

	mu    sync.Mutex
	cache *exemplarSet
}

type exemplarSet struct {
	snap    *catalog.Snapshot
	labels  []models.IntentLabel
	vectors [][]float64
}

// New creates a classifier. embedder may be nil.
func New(cfg Config, embedder contracts.EmbeddingDriver) *Classifier {
	return &Classifier{cfg: cfg, embedder: embedder}
}

type candidate struct {
	label   models.IntentLabel
	conf    float64
	length  int
	match   models.MatchKind
	trigger string
	start   int // token span [start, end) of the match
	end     int
}

// better orders candidates by confidence, then trigger length.
func (a candidate) better(b candidate) bool {
	if a.conf != b.conf {
		return a.conf > b.conf
	}
	return a.length > b.length
}

// inside reports whether a's span lies within b's and is strictly shorter.
func (a candidate) inside(b candidate) bool {
	return a.start >= b.start && a.end <= b.end && a.end-a.start < b.end-b.start
}

// Classify returns the best intent for text under snap.
func (c *Classifier) Classify(ctx context.Context, snap *catalog.Snapshot, text string) models.ParsedIntent {
	toks := textnorm.Tokens(text)
	if len(toks) == 0 {
		return models.NoIntent()
	}
	mentions := entityMentions(snap, toks)

	var cands []candidate
	for _, tr := range snap.Triggers() {
		exact := false
		for _, i := range occurrences(toks, tr.Tokens) {
			cand := candidate{tr.Label, c.cfg.ExactConfidence, len(tr.Tokens), models.MatchExact, tr.Text, i, i + len(tr.Tokens)}
			exact = true
			if !withinMention(cand, mentions) {
				cands = append(cands, cand)
			}
		}
		if exact || len(tr.Tokens) < 2 {
			continue
		}
		if start, end, ok := textnorm.InOrderSpan(toks, tr.Tokens); ok {
			cand := candidate{tr.Label, c.cfg.FuzzyConfidence, len(tr.Tokens), models.MatchFuzzy, tr.Text, start, end}
			if !withinMention(cand, mentions) {
				cands = append(cands, cand)
			}
		}
	}
	if len(cands) == 0 {
		return c.semantic(ctx, snap, text)
	}
	return pick(cands)
}

// pick returns the best candidate. Among the candidates at the top
// confidence, a match nested inside a longer one is discarded ("note" inside
// "note this"). If the survivors name more than one label the result is none.
func pick(cands []candidate) models.ParsedIntent {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].better(cands[j]) })
	top := cands[:1]
	for _, other := range cands[1:] {
		if other.conf != top[0].conf {
			break
		}
		top = append(top, other)
	}

	var best *candidate
	for i := range top {
		nested := false
		for j := range top {
			if i != j && top[i].inside(top[j]) {
				nested = true
				break
			}
		}
		if nested {
			continue
		}
		if best != nil && best.label != top[i].label {
			return models.NoIntent()
		}
		if best == nil {
			best = &top[i]
		}
	}
	return models.ParsedIntent{
		Label:      best.label,
		Confidence: best.conf,
		Match:      best.match,
		Trigger:    best.trigger,
	}
}

// occurrences returns the start of every contiguous occurrence of needle.
func occurrences(hay, needle []string) []int {
	var out []int
	for off := 0; off < len(hay); {
		i := textnorm.ContainsSeq(hay[off:], needle)
		if i < 0 {
			break
		}
		out = append(out, off+i)
		off += i + 1
	}
	return out
}

type span struct{ start, end int }

// entityMentions finds where entity synonyms occur so trigger words that are
// part of a name ("display" in "x-ray display") are not read as commands.
func entityMentions(snap *catalog.Snapshot, toks []string) []span {
	var out []span
	for _, f := range snap.SurfaceForms() {
		for _, i := range occurrences(toks, f.Tokens) {
			out = append(out, span{i, i + len(f.Tokens)})
		}
	}
	return out
}

func withinMention(c candidate, mentions []span) bool {
	for _, m := range mentions {
		if c.start >= m.start && c.end <= m.end && c.end-c.start < m.end-m.start {
			return true
		}
	}
	return false
}

func (c *Classifier) semantic(ctx context.Context, snap *catalog.Snapshot, text string) models.ParsedIntent {
	if c.embedder == nil {
		return models.NoIntent()
	}
	set, err := c.exemplars(ctx, snap)
	if err != nil || len(set.vectors) == 0 {
		if err != nil {
			log.Warn().Err(err).Msg("Intent: exemplar embedding failed, semantic fallback disabled for this turn")
		}
		return models.NoIntent()
	}
	vecs, err := c.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) != 1 {
		log.Warn().Err(err).Msg("Intent: utterance embedding failed")
		return models.NoIntent()
	}

	// Best similarity per label.
	best := make(map[models.IntentLabel]float64)
	for i, v := range set.vectors {
		sim := embeddings.Cosine(vecs[0], v)
		if sim > best[set.labels[i]] {
			best[set.labels[i]] = sim
		}
	}
	var cands []candidate
	for label, sim := range best {
		if sim < c.cfg.SemanticFloor {
			continue
		}
		conf := sim * c.cfg.SemanticScale
		if conf >= c.cfg.FuzzyConfidence {
			conf = c.cfg.FuzzyConfidence - 0.01
		}
		cands = append(cands, candidate{label: label, conf: conf, match: models.MatchSemantic})
	}
	if len(cands) == 0 {
		return models.NoIntent()
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].conf != cands[j].conf {
			return cands[i].conf > cands[j].conf
		}
		return cands[i].label < cands[j].label
	})
	return pick(cands)
}

// exemplars embeds the snapshot's exemplars once and caches them until the
// snapshot changes.
func (c *Classifier) exemplars(ctx context.Context, snap *catalog.Snapshot) (*exemplarSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil && c.cache.snap == snap {
		return c.cache, nil
	}

	set := &exemplarSet{snap: snap}
	var texts []string
	for _, label := range models.IntentLabels {
		for _, ex := range snap.Exemplars()[label] {
			set.labels = append(set.labels, label)
			texts = append(texts, ex)
		}
	}
	if len(texts) > 0 {
		vecs, err := c.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		set.vectors = vecs
	}
	c.cache = set
	return set, nil
}
