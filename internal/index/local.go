package index

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalEmbedder produces deterministic embeddings without a model
// service. Tokens are hashed into dimension buckets and the result is
// L2-normalized, so identical text always embeds identically and
// token overlap raises cosine similarity. It is the default provider
// for single-binary deployments and tests.
type LocalEmbedder struct {
	dims int
}

// NewLocalEmbedder builds a hashing embedder with the given dimension
// count.
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &LocalEmbedder{dims: dims}
}

func (e *LocalEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vector := make([]float32, e.dims)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dims))
		// The high bit decides sign so unrelated tokens cancel
		// rather than accumulate.
		if sum&(1<<63) != 0 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}
	normalize(vector)
	return vector, nil
}

func (e *LocalEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := e.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vector []float32) {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(sum))
	for i := range vector {
		vector[i] *= scale
	}
}
