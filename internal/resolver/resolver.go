// Package resolver maps the entity-naming part of an utterance onto exactly
// one canonical catalog entity, or reports that it cannot.
//
// Every entity gets a lexical score from its synonyms and, when an embedder is
// configured, a semantic score from its descriptors. The combined score is
// the larger of the two. The argmax wins only when it clears MinScore and
// leads the runner-up by more than Epsilon; otherwise the contenders are
// returned so the caller can ask which one was meant.
package resolver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/scenepilot/scenepilot/internal/embeddings"
	"github.com/scenepilot/scenepilot/internal/textnorm"
	"github.com/scenepilot/scenepilot/pkg/contracts"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// Config holds the resolver thresholds.
type Config struct {
	MinScore       float64 // winner must reach this
	Epsilon        float64 // winner must lead the runner-up by more than this
	PartialWeight  float64 // scale for partial synonym overlap
	SemanticWeight float64 // scale for semantic similarity
	SemanticFloor  float64 // similarity below this is ignored
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		MinScore:       0.5,
		Epsilon:        0.05,
		PartialWeight:  0.8,
		SemanticWeight: 0.85,
		SemanticFloor:  0.6,
	}
}

// Candidate is one scored entity.
type Candidate struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Surface string  `json:"surface,omitempty"`
}

// Resolution is the resolver's verdict. Entity is nil when unresolved;
// Ambiguous is set when several entities scored too close to call.
type Resolution struct {
	Entity     *models.ResolvedEntity
	Candidates []Candidate
	Ambiguous  bool
}

// Resolver is safe for concurrent use.
type Resolver struct {
	cfg      Config
	embedder contracts.EmbeddingDriver

	mu    sync.Mutex
	cache *descriptorSet
}

type descriptorSet struct {
	snap    *catalog.Snapshot
	names   []string
	vectors [][]float64
}

// New creates a resolver. embedder may be nil (lexical only).
func New(cfg Config, embedder contracts.EmbeddingDriver) *Resolver {
	return &Resolver{cfg: cfg, embedder: embedder}
}

type span struct {
	entity     string
	surface    string
	start, end int
}

func (s span) within(o span) bool {
	return s.start >= o.start && s.end <= o.end && (s.end-s.start) < (o.end-o.start)
}

// Resolve scores every entity of snap against text.
func (r *Resolver) Resolve(ctx context.Context, snap *catalog.Snapshot, text string) Resolution {
	content := textnorm.ContentTokens(text)
	if len(content) == 0 {
		return Resolution{}
	}

	// Contiguous synonym occurrences.
	var spans []span
	for _, f := range snap.SurfaceForms() {
		for off := 0; off < len(content); {
			i := textnorm.ContainsSeq(content[off:], f.Tokens)
			if i < 0 {
				break
			}
			spans = append(spans, span{f.Entity, f.Text, off + i, off + i + len(f.Tokens)})
			off += i + 1
		}
	}
	// Drop matches swallowed by a longer match of another entity
	// ("x ray" inside "x ray flashlight").
	var kept []span
	for _, s := range spans {
		swallowed := false
		for _, o := range spans {
			if o.entity != s.entity && s.within(o) {
				swallowed = true
				break
			}
		}
		if !swallowed {
			kept = append(kept, s)
		}
	}

	scores := make(map[string]float64)
	surface := make(map[string]string)
	claimed := make([]bool, len(content))
	for _, s := range kept {
		scores[s.entity] = 1.0
		if prev, ok := surface[s.entity]; !ok || len(s.surface) > len(prev) {
			surface[s.entity] = s.surface
		}
		for i := s.start; i < s.end; i++ {
			claimed[i] = true
		}
	}
	for _, s := range spans {
		for i := s.start; i < s.end; i++ {
			claimed[i] = true
		}
	}

	// Partial overlap over tokens no full match has claimed.
	free := make(map[string]struct{})
	for i, t := range content {
		if !claimed[i] {
			free[t] = struct{}{}
		}
	}
	if len(free) > 0 {
		for _, f := range snap.SurfaceForms() {
			if scores[f.Entity] >= 1.0 {
				continue
			}
			hit := 0
			for _, t := range f.Tokens {
				if _, ok := free[t]; ok {
					hit++
				}
			}
			if hit == 0 {
				continue
			}
			sc := r.cfg.PartialWeight * float64(hit) / float64(len(f.Tokens))
			if sc > scores[f.Entity] {
				scores[f.Entity] = sc
				surface[f.Entity] = f.Text
			}
		}
	}

	r.semantic(ctx, snap, strings.Join(content, " "), scores)
	return r.decide(scores, surface)
}

func (r *Resolver) decide(scores map[string]float64, surface map[string]string) Resolution {
	var cands []Candidate
	for name, sc := range scores {
		if sc > 0 {
			cands = append(cands, Candidate{Name: name, Score: sc, Surface: surface[name]})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Name < cands[j].Name
	})
	res := Resolution{Candidates: cands}
	if len(cands) == 0 || cands[0].Score < r.cfg.MinScore {
		return res
	}
	if len(cands) > 1 && cands[0].Score-cands[1].Score <= r.cfg.Epsilon {
		res.Ambiguous = true
		n := 1
		for n < len(cands) && cands[0].Score-cands[n].Score <= r.cfg.Epsilon {
			n++
		}
		res.Candidates = cands[:n]
		return res
	}
	res.Entity = &models.ResolvedEntity{
		CanonicalName:      cands[0].Name,
		Confidence:         cands[0].Score,
		MatchedSurfaceForm: cands[0].Surface,
	}
	return res
}

// semantic raises scores with descriptor similarity where it beats lexical.
func (r *Resolver) semantic(ctx context.Context, snap *catalog.Snapshot, query string, scores map[string]float64) {
	if r.embedder == nil || query == "" {
		return
	}
	set, err := r.descriptors(ctx, snap)
	if err != nil {
		log.Warn().Err(err).Msg("Resolver: descriptor embedding failed, lexical only")
		return
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		log.Warn().Err(err).Msg("Resolver: query embedding failed, lexical only")
		return
	}
	for i, name := range set.names {
		sim := embeddings.Cosine(vecs[0], set.vectors[i])
		if sim < r.cfg.SemanticFloor {
			continue
		}
		if sc := sim * r.cfg.SemanticWeight; sc > scores[name] {
			scores[name] = sc
		}
	}
}

// descriptors embeds every synonym and definition once per snapshot; an
// entity may appear several times in the set.
func (r *Resolver) descriptors(ctx context.Context, snap *catalog.Snapshot) (*descriptorSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil && r.cache.snap == snap {
		return r.cache, nil
	}
	set := &descriptorSet{snap: snap}
	var texts []string
	for _, e := range snap.Entities() {
		for _, s := range e.Synonyms {
			set.names = append(set.names, e.Name)
			texts = append(texts, s)
		}
		if e.Definition != "" {
			set.names = append(set.names, e.Name)
			texts = append(texts, e.Definition)
		}
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	set.vectors = vecs
	r.cache = set
	return set, nil
}
