// Package nn provides the float32 inference kernels for the classifier.
// All operators work on flat CHW buffers with explicit dimensions.
package nn

import (
	"math"
	"runtime"
	"sync"
)

// Conv2D applies a 3x3 convolution with padding 1 (output keeps the input
// spatial size). weight is laid out [outC][inC][3][3], bias is [outC].
// Output channels are computed by a worker pool.
func Conv2D(src []float32, inC, h, w int, weight, bias []float32, outC int) []float32 {
	out := make([]float32, outC*h*w)

	workers := runtime.NumCPU()
	if workers > outC {
		workers = outC
	}

	jobs := make(chan int, outC)
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for oc := range jobs {
				convChannel(src, inC, h, w, weight, bias, oc, out)
			}
		}()
	}

	for oc := 0; oc < outC; oc++ {
		jobs <- oc
	}
	close(jobs)
	wg.Wait()

	return out
}

func convChannel(src []float32, inC, h, w int, weight, bias []float32, oc int, out []float32) {
	plane := h * w
	kbase := oc * inC * 9

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := bias[oc]
			for ic := 0; ic < inC; ic++ {
				koff := kbase + ic*9
				soff := ic * plane
				for ky := -1; ky <= 1; ky++ {
					sy := y + ky
					if sy < 0 || sy >= h {
						continue
					}
					row := soff + sy*w
					krow := koff + (ky+1)*3 + 1
					for kx := -1; kx <= 1; kx++ {
						sx := x + kx
						if sx < 0 || sx >= w {
							continue
						}
						sum += src[row+sx] * weight[krow+kx]
					}
				}
			}
			out[oc*plane+y*w+x] = sum
		}
	}
}

// BatchNorm applies inference-mode batch normalization in place using the
// accumulated running statistics, never per-batch statistics.
func BatchNorm(x []float32, c, h, w int, gamma, beta, mean, variance []float32, eps float32) {
	plane := h * w
	for ch := 0; ch < c; ch++ {
		scale := gamma[ch] / float32(math.Sqrt(float64(variance[ch]+eps)))
		shift := beta[ch] - mean[ch]*scale
		base := ch * plane
		for i := 0; i < plane; i++ {
			x[base+i] = x[base+i]*scale + shift
		}
	}
}

// ReLU clamps negative values to zero in place.
func ReLU(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// MaxPool2 applies 2x2 max pooling with stride 2. Odd trailing rows and
// columns are dropped, matching the PyTorch default.
func MaxPool2(src []float32, c, h, w int) ([]float32, int, int) {
	oh, ow := h/2, w/2
	out := make([]float32, c*oh*ow)

	for ch := 0; ch < c; ch++ {
		srcBase := ch * h * w
		outBase := ch * oh * ow
		for y := 0; y < oh; y++ {
			r0 := srcBase + 2*y*w
			r1 := r0 + w
			for x := 0; x < ow; x++ {
				i := 2 * x
				m := src[r0+i]
				if v := src[r0+i+1]; v > m {
					m = v
				}
				if v := src[r1+i]; v > m {
					m = v
				}
				if v := src[r1+i+1]; v > m {
					m = v
				}
				out[outBase+y*ow+x] = m
			}
		}
	}

	return out, oh, ow
}

// AdaptiveAvgPool averages each input plane down to outH x outW using the
// same bin boundaries as PyTorch's adaptive pooling: bin i covers
// [floor(i*in/out), ceil((i+1)*in/out)).
func AdaptiveAvgPool(src []float32, c, h, w, outH, outW int) []float32 {
	out := make([]float32, c*outH*outW)

	for ch := 0; ch < c; ch++ {
		srcBase := ch * h * w
		outBase := ch * outH * outW
		for oy := 0; oy < outH; oy++ {
			y0 := oy * h / outH
			y1 := ((oy+1)*h + outH - 1) / outH
			for ox := 0; ox < outW; ox++ {
				x0 := ox * w / outW
				x1 := ((ox+1)*w + outW - 1) / outW

				var sum float32
				for y := y0; y < y1; y++ {
					row := srcBase + y*w
					for x := x0; x < x1; x++ {
						sum += src[row+x]
					}
				}
				out[outBase+oy*outW+ox] = sum / float32((y1-y0)*(x1-x0))
			}
		}
	}

	return out
}

// Linear computes out = weight*x + bias with weight laid out [out][in].
func Linear(x, weight, bias []float32, in, out int) []float32 {
	result := make([]float32, out)
	for o := 0; o < out; o++ {
		sum := bias[o]
		row := o * in
		for i := 0; i < in; i++ {
			sum += weight[row+i] * x[i]
		}
		result[o] = sum
	}
	return result
}

// Softmax converts logits to a probability distribution summing to 1.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	probs := make([]float32, len(logits))
	var total float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		probs[i] = float32(e)
		total += e
	}
	for i := range probs {
		probs[i] = float32(float64(probs[i]) / total)
	}

	return probs
}
