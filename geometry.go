package thumb

import (
	"fmt"
	"math"
)

// ratioTolerance is the aspect-ratio difference below which no crop is taken.
const ratioTolerance = 0.01

// CropPolicy places the crop window when the source is relatively taller
// than the target. VerticalBias is the fraction of the spare height kept
// above the window: 0 pins the window to the top, 0.5 centers it.
type CropPolicy struct {
	VerticalBias float64
}

// Crop policies.
var (
	// TopThird keeps one third of the spare height above the window,
	// favouring the top of the image. This is the "smart" crop.
	TopThird = CropPolicy{VerticalBias: 1.0 / 3.0}

	// Centered is the symmetric center crop.
	Centered = CropPolicy{VerticalBias: 0.5}
)

func (p CropPolicy) bias() float64 {
	switch {
	case math.IsNaN(p.VerticalBias), p.VerticalBias < 0:
		return 0
	case p.VerticalBias > 1:
		return 1
	}
	return p.VerticalBias
}

// Rect is an integer rectangle in source pixel coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Crop is the planned crop window. When NeedsCrop is false Rect covers the
// full image and only a resize is required.
type Crop struct {
	Rect
	NeedsCrop bool `json:"needs_crop"`
}

// PlanCrop computes the crop window that brings an originalW×originalH image
// to the aspect ratio of targetW×targetH. It performs no I/O.
func PlanCrop(originalW, originalH, targetW, targetH int, policy CropPolicy) (Crop, error) {
	if targetW <= 0 || targetH <= 0 {
		return Crop{}, fmt.Errorf("%w: target %dx%d", ErrInvalidDimensions, targetW, targetH)
	}
	if originalW <= 0 || originalH <= 0 {
		return Crop{}, fmt.Errorf("%w: source %dx%d", ErrInvalidDimensions, originalW, originalH)
	}

	originalRatio := float64(originalW) / float64(originalH)
	targetRatio := float64(targetW) / float64(targetH)
	full := Rect{W: originalW, H: originalH}

	if math.Abs(originalRatio-targetRatio) < ratioTolerance {
		return Crop{Rect: full}, nil
	}

	if originalRatio > targetRatio {
		w := round(float64(originalH) * targetRatio)
		return Crop{
			Rect:      Rect{X: offset(float64(originalW-w), 0.5), Y: 0, W: w, H: originalH},
			NeedsCrop: true,
		}, nil
	}

	h := round(float64(originalW) / targetRatio)
	return Crop{
		Rect:      Rect{X: 0, Y: offset(float64(originalH-h), policy.bias()), W: originalW, H: h},
		NeedsCrop: true,
	}, nil
}

// offset places a window inside available spare pixels.
func offset(available, fraction float64) int {
	if available <= 0 {
		return 0
	}
	return round(math.Min(available*fraction, available))
}

func round(v float64) int {
	return int(math.Round(v))
}
