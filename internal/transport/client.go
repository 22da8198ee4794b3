package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image/jpeg"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"render-viewer/internal/viewer"
)

// Client is one websocket connection. It implements viewer.ClientHandle:
// the live camera pose, the movement subscription, and the display
// publish all ride on this type.
type Client struct {
	id   viewer.ClientID
	conn *websocket.Conn

	// Gorilla connections allow a single concurrent writer.
	writeMu sync.Mutex

	poseMu sync.RWMutex
	pose   viewer.CameraPose

	movedMu sync.RWMutex
	onMoved []func() error

	closed atomic.Bool
}

func newClient(id viewer.ClientID, conn *websocket.Conn) *Client {
	return &Client{
		id:   id,
		conn: conn,
		pose: viewer.CameraPose{
			Fov:      math.Pi / 2,
			Aspect:   16.0 / 9.0,
			Rotation: mgl64.QuatIdent(),
		},
	}
}

// ID returns the connection's stable identifier.
func (c *Client) ID() viewer.ClientID { return c.id }

// Camera returns the most recently reported pose.
func (c *Client) Camera() viewer.CameraPose {
	c.poseMu.RLock()
	defer c.poseMu.RUnlock()
	return c.pose
}

// OnCameraMoved registers fn to run on every pose update from this client.
func (c *Client) OnCameraMoved(fn func() error) {
	c.movedMu.Lock()
	c.onMoved = append(c.onMoved, fn)
	c.movedMu.Unlock()
}

// Publish encodes the frame as JPEG at the given quality and sends it,
// with the optional depth map, to the client's display surface. Returns
// viewer.ErrClientClosed once the connection is gone; a failed write also
// counts as closed, since the read loop will tear the connection down.
func (c *Client) Publish(frame viewer.Frame, depth []float32, quality int) error {
	if c.closed.Load() {
		return viewer.ErrClientClosed
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	msg := frameMessage{
		Type:   "frame",
		Width:  frame.Width,
		Height: frame.Height,
		JPEG:   buf.Bytes(),
		Depth:  encodeDepth(depth),
	}
	if err := c.writeJSON(msg); err != nil {
		return viewer.ErrClientClosed
	}
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) setPose(msg inboundMessage) {
	pose := viewer.CameraPose{
		Fov:      msg.Fov,
		Aspect:   msg.Aspect,
		Position: mgl64.Vec3{msg.Position[0], msg.Position[1], msg.Position[2]},
		Rotation: mgl64.Quat{
			W: msg.WXYZ[0],
			V: mgl64.Vec3{msg.WXYZ[1], msg.WXYZ[2], msg.WXYZ[3]},
		},
	}
	c.poseMu.Lock()
	c.pose = pose
	c.poseMu.Unlock()
}

func (c *Client) fireMoved() []error {
	c.movedMu.RLock()
	fns := make([]func() error, len(c.onMoved))
	copy(fns, c.onMoved)
	c.movedMu.RUnlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (c *Client) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.conn.Close()
	}
}

func encodeDepth(depth []float32) []byte {
	if depth == nil {
		return nil
	}
	out := make([]byte, 4*len(depth))
	for i, d := range depth {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(d))
	}
	return out
}
