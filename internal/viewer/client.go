package viewer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"
)

// ClientID identifies one connected client for the lifetime of its
// connection.
type ClientID string

// Frame is an 8-bit RGB image, row-major, 3 bytes per pixel. It
// implements image.Image so it can be handed straight to an encoder.
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

func (f Frame) ColorModel() color.Model { return color.RGBAModel }

func (f Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

func (f Frame) At(x, y int) color.Color {
	i := (y*f.Width + x) * 3
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}

// RenderFunc is the externally supplied render callback: camera state and
// target resolution in, RGB frame and optional depth map (row-major
// float32, same dimensions, nil if absent) out. It is not assumed safe to
// call concurrently with itself; the scheduler serializes every
// invocation behind one process-wide lock.
type RenderFunc func(cam CameraState, width, height int) (Frame, []float32, error)

// ClientHandle is the transport's surface for one connected client.
type ClientHandle interface {
	ID() ClientID

	// Camera returns the live pose. It is polled right before a render,
	// never cached.
	Camera() CameraPose

	// OnCameraMoved registers fn to run on every pose change the client
	// reports. Errors returned by fn are the transport's to report.
	OnCameraMoved(fn func() error)

	// Publish delivers a rendered frame and optional depth map to the
	// client's display surface, encoded at the given quality. Once the
	// connection is gone it returns ErrClientClosed.
	Publish(frame Frame, depth []float32, quality int) error
}

// atomicTime stores a wall-clock instant as unix nanoseconds so the
// coordinator can read scheduler timestamps without taking a lock.
type atomicTime struct {
	ns atomic.Int64
}

func (t *atomicTime) Store(v time.Time) { t.ns.Store(v.UnixNano()) }

func (t *atomicTime) Load() time.Time { return time.Unix(0, t.ns.Load()) }

// RenderClient schedules renders for one connected client: it decides the
// scale, invokes the render callback, and publishes the result. One is
// created on connect and discarded on disconnect; a render in flight at
// disconnect time completes and its publish becomes a no-op.
type RenderClient struct {
	client   ClientHandle
	renderFn RenderFunc
	config   *RenderConfig

	// renderMu is the coordinator-owned lock serializing every render
	// callback invocation process-wide, the pose read included.
	renderMu *sync.Mutex

	lastRender atomicTime
	lastMoved  atomicTime
}

func newRenderClient(client ClientHandle, renderFn RenderFunc, config *RenderConfig, renderMu *sync.Mutex) *RenderClient {
	rc := &RenderClient{
		client:   client,
		renderFn: renderFn,
		config:   config,
		renderMu: renderMu,
	}
	now := time.Now()
	rc.lastRender.Store(now)
	rc.lastMoved.Store(now)
	return rc
}

// LastRender reports when this client last started a render.
func (rc *RenderClient) LastRender() time.Time { return rc.lastRender.Load() }

// LastMoved reports when this client last moved its camera.
func (rc *RenderClient) LastMoved() time.Time { return rc.lastMoved.Load() }

// OnCameraMoved handles one camera movement event: it stamps the movement
// time and immediately issues a preview render at the configured fast
// scale. Each event yields exactly one render; coalescing rapid movement
// is the transport's event delivery rate, not this method.
func (rc *RenderClient) OnCameraMoved() error {
	rc.lastMoved.Store(time.Now())
	return rc.Render(rc.config.FastRenderScale())
}

// Render renders at the given scale and publishes the result. The target
// long edge is round(scale * MaxRenderRes); the short edge follows from
// the aspect ratio.
//
// The pose read and the callback invocation happen together under the
// shared render lock: the callback may hold exclusive access to model
// state the training loop is mutating, so read-then-invoke must be atomic
// with respect to other renders. The publish runs outside the lock.
// Publishes are not versioned; a slow preview can land after a newer full
// render and overwrite it (last write wins).
func (rc *RenderClient) Render(scale float64) error {
	rc.lastRender.Store(time.Now())

	var (
		frame Frame
		depth []float32
	)
	err := func() error {
		rc.renderMu.Lock()
		defer rc.renderMu.Unlock()

		cam := NewCameraState(rc.client.Camera())
		width, height := imageSize(scale*float64(rc.config.MaxRenderRes()), cam.Aspect)
		var err error
		frame, depth, err = rc.renderFn(cam, width, height)
		return err
	}()
	if err != nil {
		return fmt.Errorf("render callback: %w", err)
	}

	if err := rc.client.Publish(frame, depth, rc.config.JPEGQuality()); err != nil {
		if errors.Is(err, ErrClientClosed) {
			// Disconnected while rendering; dropping the frame is fine.
			return nil
		}
		return fmt.Errorf("publish render: %w", err)
	}
	return nil
}
