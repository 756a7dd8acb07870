package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConv2DIdentityKernel(t *testing.T) {
	src := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	weight := []float32{0, 0, 0, 0, 1, 0, 0, 0, 0}
	bias := []float32{0}

	out := Conv2D(src, 1, 3, 3, weight, bias, 1)

	assert.InDeltaSlice(t, src, out, 1e-6)
}

func TestConv2DAppliesBias(t *testing.T) {
	src := make([]float32, 9)
	weight := make([]float32, 9)
	bias := []float32{0.5}

	out := Conv2D(src, 1, 3, 3, weight, bias, 1)

	for _, v := range out {
		assert.InDelta(t, 0.5, v, 1e-6)
	}
}

func TestConv2DMultiChannel(t *testing.T) {
	// Two input channels of ones, two output channels: a summing kernel
	// (center tap 1 on both inputs) and a zero kernel.
	src := []float32{
		1, 1, 1, 1, // channel 0, 2x2
		1, 1, 1, 1, // channel 1, 2x2
	}
	weight := make([]float32, 2*2*9)
	weight[4] = 1    // out 0, in 0, center
	weight[9+4] = 1  // out 0, in 1, center
	bias := []float32{0, 0}

	out := Conv2D(src, 2, 2, 2, weight, bias, 2)

	require.Len(t, out, 8)
	assert.InDeltaSlice(t, []float32{2, 2, 2, 2}, out[:4], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 0, 0, 0}, out[4:], 1e-6)
}

func TestBatchNormUsesRunningStats(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	BatchNorm(x, 1, 2, 2,
		[]float32{2},  // gamma
		[]float32{1},  // beta
		[]float32{2},  // running mean
		[]float32{4},  // running var
		0)

	// scale = 2/sqrt(4) = 1, shift = 1 - 2*1 = -1
	assert.InDeltaSlice(t, []float32{0, 1, 2, 3}, x, 1e-5)
}

func TestReLU(t *testing.T) {
	x := []float32{-1, 0, 2, -0.5}
	ReLU(x)
	assert.Equal(t, []float32{0, 0, 2, 0}, x)
}

func TestMaxPool2(t *testing.T) {
	src := []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}

	out, oh, ow := MaxPool2(src, 1, 4, 4)

	assert.Equal(t, 2, oh)
	assert.Equal(t, 2, ow)
	assert.Equal(t, []float32{6, 8, 14, 16}, out)
}

func TestMaxPool2DropsOddEdges(t *testing.T) {
	src := []float32{
		1, 2, 9,
		3, 4, 9,
		9, 9, 9,
	}

	out, oh, ow := MaxPool2(src, 1, 3, 3)

	assert.Equal(t, 1, oh)
	assert.Equal(t, 1, ow)
	assert.Equal(t, []float32{4}, out)
}

func TestAdaptiveAvgPool(t *testing.T) {
	src := []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}

	out := AdaptiveAvgPool(src, 1, 4, 4, 2, 2)

	assert.InDeltaSlice(t, []float32{3.5, 5.5, 11.5, 13.5}, out, 1e-6)
}

func TestAdaptiveAvgPoolUpsamplesSmallInput(t *testing.T) {
	// 1x1 input expands to a constant 6x6 map, which is what keeps the
	// network usable on small test tensors.
	out := AdaptiveAvgPool([]float32{7}, 1, 1, 1, 6, 6)

	require.Len(t, out, 36)
	for _, v := range out {
		assert.InDelta(t, 7, v, 1e-6)
	}
}

func TestLinear(t *testing.T) {
	out := Linear([]float32{1, 1}, []float32{1, 2, 3, 4}, []float32{0.5, -0.5}, 2, 2)
	assert.InDeltaSlice(t, []float32{3.5, 6.5}, out, 1e-6)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3, -1, 0.5})

	var sum float64
	for _, p := range probs {
		sum += float64(p)
		assert.GreaterOrEqual(t, p, float32(0))
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestSoftmaxPreservesOrdering(t *testing.T) {
	probs := Softmax([]float32{0.1, 3, 1})
	assert.Greater(t, probs[1], probs[2])
	assert.Greater(t, probs[2], probs[0])
}

func TestSoftmaxUniformOnEqualLogits(t *testing.T) {
	probs := Softmax([]float32{2, 2, 2, 2})
	for _, p := range probs {
		assert.InDelta(t, 0.25, p, 1e-6)
	}
}

func TestSoftmaxLargeLogitsStable(t *testing.T) {
	probs := Softmax([]float32{1000, 1001})
	require.False(t, math.IsNaN(float64(probs[0])))
	assert.InDelta(t, 1.0, float64(probs[0])+float64(probs[1]), 1e-6)
	assert.Greater(t, probs[1], probs[0])
}
