package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rankerLabels = []string{"aloe", "monstera", "pothos", "ficus"}

func TestTopKOrdersByDescendingConfidence(t *testing.T) {
	probs := []float32{0.1, 0.5, 0.3, 0.1}

	preds := TopK(probs, rankerLabels, 3)

	require.Len(t, preds, 3)
	assert.Equal(t, "monstera", preds[0].Name)
	assert.Equal(t, "pothos", preds[1].Name)
	for i := 1; i < len(preds); i++ {
		assert.LessOrEqual(t, preds[i].Confidence, preds[i-1].Confidence)
	}
}

func TestTopKTiesBreakTowardLowerIndex(t *testing.T) {
	probs := []float32{0.1, 0.4, 0.4, 0.1}

	preds := TopK(probs, rankerLabels, 4)

	require.Len(t, preds, 4)
	assert.Equal(t, 1, preds[0].ClassIndex)
	assert.Equal(t, 2, preds[1].ClassIndex)
	assert.Equal(t, 0, preds[2].ClassIndex)
	assert.Equal(t, 3, preds[3].ClassIndex)
}

func TestTopKClampsToClassCount(t *testing.T) {
	probs := []float32{0.2, 0.3, 0.5}

	preds := TopK(probs, []string{"a", "b", "c"}, 10)

	assert.Len(t, preds, 3)
}

func TestTopKGuardsShortLabelList(t *testing.T) {
	probs := []float32{0.1, 0.9}

	preds := TopK(probs, []string{"aloe"}, 2)

	require.Len(t, preds, 2)
	assert.Equal(t, "class_1", preds[0].Name)
	assert.Equal(t, "aloe", preds[1].Name)
}

func TestFilterByConfidenceIsExplicit(t *testing.T) {
	probs := []float32{0.05, 0.6, 0.3, 0.05}

	// TopK itself never drops low-confidence entries.
	preds := TopK(probs, rankerLabels, 4)
	require.Len(t, preds, 4)

	filtered := FilterByConfidence(preds, 0.2)
	require.Len(t, filtered, 2)
	assert.Equal(t, "monstera", filtered[0].Name)
	assert.Equal(t, "pothos", filtered[1].Name)
}

func TestFilterByConfidenceKeepsThresholdValue(t *testing.T) {
	preds := []Prediction{{Name: "aloe", Confidence: 0.3, ClassIndex: 0}}
	assert.Len(t, FilterByConfidence(preds, 0.3), 1)
	assert.Empty(t, FilterByConfidence(preds, 0.31))
}
