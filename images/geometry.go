package images

import (
	"fmt"
	"math"
)

// MPP is a resolution in microns per pixel. The zero value means unknown.
type MPP struct {
	X float64
	Y float64
}

func (m MPP) IsZero() bool {
	return m.X == 0 && m.Y == 0
}

// Scale returns the resolution after downsampling by ds.
func (m MPP) Scale(ds float64) MPP {
	return MPP{X: m.X * ds, Y: m.Y * ds}
}

// Equal compares with a relative tolerance, level mpps are computed from
// float downsample factors.
func (m MPP) Equal(o MPP) bool {
	return closeTo(m.X, o.X) && closeTo(m.Y, o.Y)
}

func (m MPP) String() string {
	return fmt.Sprintf("MPP(x=%g, y=%g)", m.X, m.Y)
}

func closeTo(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

// IntPoint is a pixel location. A zero MPP leaves the resolution unspecified.
type IntPoint struct {
	X   int
	Y   int
	MPP MPP
}

func (p IntPoint) String() string {
	if p.MPP.IsZero() {
		return fmt.Sprintf("IntPoint(x=%d, y=%d)", p.X, p.Y)
	}
	return fmt.Sprintf("IntPoint(x=%d, y=%d, mpp=%s)", p.X, p.Y, p.MPP)
}

// IntSize is a pixel extent. A zero MPP leaves the resolution unspecified.
type IntSize struct {
	W   int
	H   int
	MPP MPP
}

func (s IntSize) String() string {
	if s.MPP.IsZero() {
		return fmt.Sprintf("IntSize(width=%d, height=%d)", s.W, s.H)
	}
	return fmt.Sprintf("IntSize(width=%d, height=%d, mpp=%s)", s.W, s.H, s.MPP)
}
