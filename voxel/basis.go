package voxel

import (
	"errors"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrDegenerateBasis is returned when the averaged edge vectors of a
// particle voxel are too short or too collinear for orthonormalization.
// Recoverable: the voxel stays in particle form and demotion is retried
// next frame.
var ErrDegenerateBasis = errors.New("voxel: degenerate edge basis")

const (
	// edges shorter than this fraction of a voxel width are degenerate
	degenerateLengthEpsilon = 1e-6
	// normalized edges with |dot| above this are treated as collinear
	degenerateDotEpsilon = 1.0 - 1e-6
)

// EdgeVectors extracts the three averaged edge vectors of an 8-corner
// parallelepiped, one per local axis, each averaged over the 4 opposing
// corner pairs along that axis.
func EdgeVectors(corners [8]mgl64.Vec3) (ex, ey, ez mgl64.Vec3) {
	// bit 0 = +X, bit 1 = +Y, bit 2 = +Z (see cornerOffsets)
	ex = corners[1].Sub(corners[0]).
		Add(corners[3].Sub(corners[2])).
		Add(corners[5].Sub(corners[4])).
		Add(corners[7].Sub(corners[6])).Mul(0.25)
	ey = corners[2].Sub(corners[0]).
		Add(corners[3].Sub(corners[1])).
		Add(corners[6].Sub(corners[4])).
		Add(corners[7].Sub(corners[5])).Mul(0.25)
	ez = corners[4].Sub(corners[0]).
		Add(corners[5].Sub(corners[1])).
		Add(corners[6].Sub(corners[2])).
		Add(corners[7].Sub(corners[3])).Mul(0.25)
	return ex, ey, ez
}

// Orthonormalize applies classical Gram-Schmidt to the three edge vectors
// and returns the orthonormal basis as a column matrix [ux uy uz].
// Fails with ErrDegenerateBasis when the input is near-singular.
func Orthonormalize(ex, ey, ez mgl64.Vec3) (mgl64.Mat3, error) {
	if ex.Len() < degenerateLengthEpsilon {
		return mgl64.Mat3{}, ErrDegenerateBasis
	}
	ux := ex.Normalize()

	vy := ey.Sub(ux.Mul(ey.Dot(ux)))
	if vy.Len() < degenerateLengthEpsilon {
		return mgl64.Mat3{}, ErrDegenerateBasis
	}
	uy := vy.Normalize()

	vz := ez.Sub(ux.Mul(ez.Dot(ux))).Sub(uy.Mul(ez.Dot(uy)))
	if vz.Len() < degenerateLengthEpsilon {
		return mgl64.Mat3{}, ErrDegenerateBasis
	}
	uz := vz.Normalize()

	if absDot(ux, uy) > degenerateDotEpsilon ||
		absDot(ux, uz) > degenerateDotEpsilon ||
		absDot(uy, uz) > degenerateDotEpsilon {
		return mgl64.Mat3{}, ErrDegenerateBasis
	}

	return mat3Cols(ux, uy, uz), nil
}

// mat3Cols builds a column-major Mat3 from three column vectors.
func mat3Cols(a, b, c mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3{
		a[0], a[1], a[2],
		b[0], b[1], b[2],
		c[0], c[1], c[2],
	}
}

// Volume returns the signed volume of the parallelepiped spanned by the
// three edge vectors.
func Volume(ex, ey, ez mgl64.Vec3) float64 {
	return ex.Dot(ey.Cross(ez))
}

func absDot(a, b mgl64.Vec3) float64 {
	d := a.Dot(b)
	if d < 0 {
		return -d
	}
	return d
}

// BasisToQuat converts an orthonormal (right-handed) basis matrix to a
// unit quaternion.
func BasisToQuat(basis mgl64.Mat3) mgl64.Quat {
	return mgl64.Mat4ToQuat(basis.Mat4()).Normalize()
}

// RestCorners returns the 8 corner positions of an undeformed voxel of
// the given width, rotated by orientation around center.
func RestCorners(center mgl64.Vec3, orientation mgl64.Quat, width float64) [8]mgl64.Vec3 {
	var corners [8]mgl64.Vec3
	for i, offset := range cornerOffsets {
		corners[i] = center.Add(orientation.Rotate(offset.Mul(width)))
	}
	return corners
}
