// Package retrieval ranks corpus passages against a query vector by cosine
// similarity. Ranking is deterministic: ties keep original corpus order.
package retrieval

import (
	"math"
	"sort"

	"github.com/hupe1980/threadstream/embedding"
)

// Result is a ranked passage with its similarity score in [-1, 1], higher
// meaning more relevant. Results are ephemeral: recomputed per query and
// never persisted independently of the owning thread item.
type Result struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// CosineSimilarity returns the normalized dot product of a and b. Vectors of
// different lengths are compared over the shorter prefix. A zero norm on
// either side yields 0 rather than NaN.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank scores every corpus record against the query vector and returns the
// top k results in descending score order. The sort is stable so equal scores
// keep their corpus order, making ranking deterministic. An empty corpus
// yields an empty result, not an error.
func Rank(query []float64, corpus []embedding.Record, k int) []Result {
	if k <= 0 || len(corpus) == 0 {
		return []Result{}
	}

	results := make([]Result, len(corpus))
	for i, rec := range corpus {
		results[i] = Result{Text: rec.Text, Score: CosineSimilarity(query, rec.Vector)}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if k < len(results) {
		results = results[:k]
	}
	return results
}
