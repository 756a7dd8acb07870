package classify

import (
	"fmt"
	"sort"
)

// TopK selects the k highest-probability classes and pairs them with their
// labels, ordered by descending confidence. Ties break toward the lower
// class index. k larger than the class count is clamped.
func TopK(probs []float32, labels []string, k int) []Prediction {
	if k > len(probs) {
		k = len(probs)
	}
	if k <= 0 {
		return nil
	}

	indices := make([]int, len(probs))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(a, b int) bool {
		ia, ib := indices[a], indices[b]
		if probs[ia] != probs[ib] {
			return probs[ia] > probs[ib]
		}
		return ia < ib
	})

	preds := make([]Prediction, 0, k)
	for _, idx := range indices[:k] {
		preds = append(preds, Prediction{
			Name:       labelFor(labels, idx),
			Confidence: probs[idx],
			ClassIndex: idx,
		})
	}
	return preds
}

// FilterByConfidence removes predictions below threshold. Callers invoke
// this explicitly; identification output is never filtered implicitly.
func FilterByConfidence(preds []Prediction, threshold float32) []Prediction {
	filtered := make([]Prediction, 0, len(preds))
	for _, p := range preds {
		if p.Confidence >= threshold {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// labelFor guards against label lists shorter than the output layer, which
// can happen when a checkpoint ships a stale class_names entry.
func labelFor(labels []string, idx int) string {
	if idx < len(labels) {
		return labels[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}
