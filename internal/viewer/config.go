package viewer

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Defaults for a fresh RenderConfig.
const (
	DefaultJPEGQuality     = 70
	DefaultMaxRenderRes    = 2048
	DefaultFastRenderScale = 0.5
)

// RenderConfig is the render configuration shared by reference across all
// schedulers of one viewer. Mutations are visible process-wide
// immediately; a scheduler picks up the new values on its next render,
// never retroactively on one in flight. Fields are plain atomics, so
// readers never contend with the slider callbacks that mutate them.
type RenderConfig struct {
	jpegQuality     atomic.Int64
	maxRenderRes    atomic.Int64
	fastRenderScale atomic.Uint64 // float64 bits
}

// NewRenderConfig returns a config with the default quality, resolution
// cap, and preview scale.
func NewRenderConfig() *RenderConfig {
	c := &RenderConfig{}
	c.jpegQuality.Store(DefaultJPEGQuality)
	c.maxRenderRes.Store(DefaultMaxRenderRes)
	c.fastRenderScale.Store(math.Float64bits(DefaultFastRenderScale))
	return c
}

// JPEGQuality returns the output quality for published frames, 0–100.
func (c *RenderConfig) JPEGQuality() int {
	return int(c.jpegQuality.Load())
}

// MaxRenderRes returns the resolution cap: the long edge, in pixels, of a
// full-quality render.
func (c *RenderConfig) MaxRenderRes() int {
	return int(c.maxRenderRes.Load())
}

// FastRenderScale returns the scale factor in (0, 1] applied to preview
// renders issued during camera movement.
func (c *RenderConfig) FastRenderScale() float64 {
	return math.Float64frombits(c.fastRenderScale.Load())
}

// SetJPEGQuality sets the output quality. Values outside 0–100 are
// rejected and the previous value stays in effect.
func (c *RenderConfig) SetJPEGQuality(q int) error {
	if q < 0 || q > 100 {
		return fmt.Errorf("%w: jpeg quality %d out of range 0-100", ErrInvalidConfig, q)
	}
	c.jpegQuality.Store(int64(q))
	return nil
}

// SetMaxRenderRes sets the resolution cap. Non-positive values are
// rejected and the previous value stays in effect.
func (c *RenderConfig) SetMaxRenderRes(res int) error {
	if res <= 0 {
		return fmt.Errorf("%w: max render resolution %d must be positive", ErrInvalidConfig, res)
	}
	c.maxRenderRes.Store(int64(res))
	return nil
}

// SetFastRenderScale sets the preview scale factor. Values outside (0, 1]
// are rejected and the previous value stays in effect.
func (c *RenderConfig) SetFastRenderScale(scale float64) error {
	if scale <= 0 || scale > 1 || math.IsNaN(scale) {
		return fmt.Errorf("%w: fast render scale %v out of range (0, 1]", ErrInvalidConfig, scale)
	}
	c.fastRenderScale.Store(math.Float64bits(scale))
	return nil
}
