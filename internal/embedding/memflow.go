package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/False-Maker/memflow/internal/config"
)

// TargetDim is the fixed dimension the store persists vectors at (D=384).
// Providers returning a different dimension are adapted on write and query.
const TargetDim = config.EmbeddingDim

// AdaptDimension truncates or zero-pads vec to exactly TargetDim entries,
// per the embedding-dimension-drift contract: a user may switch providers
// mid-corpus, so stored and runtime vectors can disagree on length.
func AdaptDimension(vec []float32) []float32 {
	if len(vec) == TargetDim {
		return vec
	}
	out := make([]float32, TargetDim)
	n := len(vec)
	if n > TargetDim {
		n = TargetDim
	}
	copy(out, vec[:n])
	return out
}

// Placeholder deterministically derives a unit-length TargetDim vector from
// text when no embedding provider is configured. Using a hash instead of a
// real model keeps hybrid search's BM25 stage meaningful while semantic
// rerank degrades gracefully to "nothing in particular".
func Placeholder(text string) []float32 {
	vec := make([]float32, TargetDim)
	seed := sha256.Sum256([]byte(text))
	// Expand the 32-byte seed into TargetDim pseudo-random floats by
	// re-hashing the seed with a counter, 8 floats (32 bytes) per round.
	round := 0
	for i := 0; i < TargetDim; i += 8 {
		h := sha256.New()
		h.Write(seed[:])
		var ctr [4]byte
		binary.LittleEndian.PutUint32(ctr[:], uint32(round))
		h.Write(ctr[:])
		digest := h.Sum(nil)
		for j := 0; j < 8 && i+j < TargetDim; j++ {
			u := binary.LittleEndian.Uint32(digest[j*4 : j*4+4])
			// map to [-1, 1]
			vec[i+j] = float32(int32(u))/float32(math.MaxInt32)
		}
		round++
	}
	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

// CosineSimilarity returns the cosine similarity of two vectors of equal
// length. A zero-norm vector on either side yields 0, never NaN.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Resolve builds a Provider from config, falling back to nil (placeholder
// mode) when the provider is "none" or construction fails. Callers should
// use Placeholder(text) when Resolve returns a nil provider.
func Resolve(cfg config.EmbeddingConfig) Provider {
	if cfg.Provider == "none" || cfg.Provider == "" {
		return nil
	}
	p, err := NewProvider(ProviderConfig{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return nil
	}
	return p
}

// Embed returns a TargetDim-length vector for text, using provider if
// non-nil, falling back to the deterministic placeholder otherwise or on
// provider error.
func Embed(provider Provider, text, purpose string) []float32 {
	if provider != nil {
		if vec, err := provider.GetEmbedding(text, purpose); err == nil {
			return AdaptDimension(vec)
		}
	}
	return Placeholder(text)
}
