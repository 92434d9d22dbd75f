package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/scenepilot/scenepilot/internal/textnorm"
)

// HashingDriver is an offline, deterministic embedder: canonical tokens,
// adjacent token pairs and character trigrams are feature-hashed into a fixed
// number of buckets and L2-normalized. Texts sharing words or word fragments
// land close together, which is all the pipeline's semantic fallbacks need
// when no model server is configured.
type HashingDriver struct {
	dimensions int
}

// NewHashingDriver creates a hashing embedder; dims <= 0 selects 512.
func NewHashingDriver(dims int) *HashingDriver {
	if dims <= 0 {
		dims = 512
	}
	return &HashingDriver{dimensions: dims}
}

func (d *HashingDriver) Kind() string      { return "hashing" }
func (d *HashingDriver) Dimensions() int   { return d.dimensions }
func (d *HashingDriver) MaxBatchSize() int { return 4096 }

// Embed never fails except on cancellation.
func (d *HashingDriver) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = d.vector(t)
	}
	return out, nil
}

func (d *HashingDriver) HealthCheck(context.Context) error { return nil }

func (d *HashingDriver) vector(text string) []float64 {
	v := make([]float64, d.dimensions)
	toks := textnorm.Tokens(text)
	for i, tok := range toks {
		d.add(v, "w:"+tok, 1.0)
		if i > 0 {
			d.add(v, "b:"+toks[i-1]+" "+tok, 0.5)
		}
		padded := []rune("^" + tok + "$")
		for j := 0; j+3 <= len(padded); j++ {
			d.add(v, "c:"+string(padded[j:j+3]), 0.25)
		}
	}
	normalize(v)
	return v
}

// add hashes a feature into a bucket; the sign bit spreads collisions.
func (d *HashingDriver) add(v []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(d.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func normalize(v []float64) {
	var n float64
	for _, x := range v {
		n += x * x
	}
	if n == 0 {
		return
	}
	n = math.Sqrt(n)
	for i := range v {
		v[i] /= n
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// embedInBatches splits texts into batches of at most size and concatenates
// the results in input order.
func embedInBatches(ctx context.Context, texts []string, size int, fn func(context.Context, []string) ([][]float64, error)) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
