package viewer

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// CameraPose is the live viewpoint a client reports through the transport.
// Rotation is a world-from-camera orientation quaternion.
type CameraPose struct {
	Fov      float64 // vertical field of view, radians, in (0, π)
	Aspect   float64 // width / height, > 0
	Position mgl64.Vec3
	Rotation mgl64.Quat
}

// CameraState is an immutable snapshot of a viewpoint. It is built fresh
// from the live pose on every render and discarded afterwards; nothing
// caches or mutates one.
type CameraState struct {
	Fov           float64
	Aspect        float64
	CameraToWorld mgl64.Mat4
}

// NewCameraState builds the 4×4 homogeneous camera-to-world transform from
// a pose: rotation in the upper-left 3×3, position in the last column,
// last row [0 0 0 1].
func NewCameraState(pose CameraPose) CameraState {
	m := pose.Rotation.Normalize().Mat4()
	m.SetCol(3, mgl64.Vec4{pose.Position.X(), pose.Position.Y(), pose.Position.Z(), 1})
	return CameraState{
		Fov:           pose.Fov,
		Aspect:        pose.Aspect,
		CameraToWorld: m,
	}
}

// Projection derives pixel intrinsics (fx, fy, cx, cy) for an image of the
// given size. Focal length comes from the vertical fov, the principal
// point sits at the image center.
func (c CameraState) Projection(width, height int) mgl64.Vec4 {
	f := float64(height) / 2 / math.Tan(c.Fov/2)
	return mgl64.Vec4{f, f, float64(width) / 2, float64(height) / 2}
}

// imageSize maps a long-edge pixel budget to concrete dimensions,
// preserving aspect up to rounding. The long edge never exceeds the
// budget; both edges are at least one pixel.
func imageSize(longEdge, aspect float64) (width, height int) {
	target := clampPx(math.Round(longEdge))
	if aspect > 1 {
		return target, clampPx(math.Round(float64(target) / aspect))
	}
	return clampPx(math.Round(float64(target) * aspect)), target
}

func clampPx(v float64) int {
	if v < 1 {
		return 1
	}
	return int(v)
}
