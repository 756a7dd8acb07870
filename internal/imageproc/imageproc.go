// Package imageproc turns raw uploaded image bytes into the fixed-size,
// channel-normalized tensor the classifier expects.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

const (
	// TargetSize is the classifier input resolution.
	TargetSize = 224
	// Channels is the number of color channels in the output tensor.
	Channels = 3

	// Decoded images smaller than this on either side cannot carry enough
	// detail to survive five rounds of 2x2 pooling.
	minDimension = 16
)

// ErrInvalidImage reports undecodable, corrupted, or implausibly small input.
var ErrInvalidImage = errors.New("invalid image")

// ImageNet per-channel statistics, matching the training-time transform.
var (
	channelMean = [Channels]float32{0.485, 0.456, 0.406}
	channelStd  = [Channels]float32{0.229, 0.224, 0.225}
)

// Tensor is a CHW float32 buffer sized for the classifier input.
type Tensor struct {
	Data     []float32
	Channels int
	Height   int
	Width    int
}

type Normalizer struct {
	log *zap.Logger
}

func NewNormalizer(log *zap.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// Normalize decodes raw bytes and produces the model input tensor:
// upright orientation, RGB, aspect-preserving resize, black center padding,
// [0,1] scaling, then per-channel mean/std normalization.
func (n *Normalizer) Normalize(raw []byte) (*Tensor, error) {
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() < minDimension || bounds.Dy() < minDimension {
		return nil, fmt.Errorf("%w: decoded image too small (%dx%d)",
			ErrInvalidImage, bounds.Dx(), bounds.Dy())
	}

	img = fixOrientation(img, raw)
	padded := fitOnCanvas(img)

	n.log.Debug("image normalized",
		zap.String("format", format),
		zap.Int("source_width", bounds.Dx()),
		zap.Int("source_height", bounds.Dy()))

	return toTensor(padded), nil
}

// fixOrientation rotates the decoded image upright for the four cardinal
// EXIF orientation cases. Mirrored orientations and missing EXIF data leave
// the image untouched.
func fixOrientation(img image.Image, raw []byte) image.Image {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return img
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return img
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return img
	}

	switch orientation {
	case 3:
		return imaging.Rotate180(img)
	case 6:
		return imaging.Rotate270(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// fitDimensions computes the size the content occupies inside the target
// square when resized without distortion.
func fitDimensions(width, height int) (int, int) {
	if width >= height {
		h := height * TargetSize / width
		if h < 1 {
			h = 1
		}
		return TargetSize, h
	}
	w := width * TargetSize / height
	if w < 1 {
		w = 1
	}
	return w, TargetSize
}

// fitOnCanvas resizes preserving aspect ratio and centers the result on a
// black square canvas. Padding keeps species shape proportions intact;
// cropping or stretching would distort them.
func fitOnCanvas(img image.Image) *image.NRGBA {
	fitW, fitH := fitDimensions(img.Bounds().Dx(), img.Bounds().Dy())
	resized := resize.Resize(uint(fitW), uint(fitH), img, resize.Lanczos3)

	canvas := imaging.New(TargetSize, TargetSize, color.NRGBA{0, 0, 0, 255})
	return imaging.PasteCenter(canvas, resized)
}

func toTensor(img *image.NRGBA) *Tensor {
	plane := TargetSize * TargetSize
	data := make([]float32, Channels*plane)

	for y := 0; y < TargetSize; y++ {
		offset := y * TargetSize
		for x := 0; x < TargetSize; x++ {
			i := offset + x
			r, g, b, _ := img.At(x, y).RGBA()

			data[i] = (float32(r)/65535.0 - channelMean[0]) / channelStd[0]
			data[plane+i] = (float32(g)/65535.0 - channelMean[1]) / channelStd[1]
			data[2*plane+i] = (float32(b)/65535.0 - channelMean[2]) / channelStd[2]
		}
	}

	return &Tensor{
		Data:     data,
		Channels: Channels,
		Height:   TargetSize,
		Width:    TargetSize,
	}
}
