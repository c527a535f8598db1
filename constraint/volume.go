package constraint

import (
	"math"

	"github.com/akmonengine/crumble/voxel"
	"github.com/go-gl/mathgl/mgl64"
)

const minEdgeLength = 1e-9

// SolveVolume applies the Gram-Schmidt parallelepiped constraint to the
// corners of one particle voxel, in place.
//
// The averaged edge vectors are orthonormalized with modified Gram-Schmidt
// starting from the longest edge (dominant axis, avoids directional bias),
// the orthonormal triad is rescaled so its signed volume matches
// restVolume, and the target triad is blended into the current edges by
// the stiffness factor alpha. This bounds volume drift per iteration
// instead of letting it compound; it is a stylized trade-off, not exact
// physics.
//
// Corners are only read and written through the pointer, so concurrent
// calls on distinct voxels are race-free.
func SolveVolume(corners *[8]mgl64.Vec3, restVolume, alpha float64) error {
	ex, ey, ez := voxel.EdgeVectors(*corners)

	lengths := [3]float64{ex.Len(), ey.Len(), ez.Len()}
	edges := [3]mgl64.Vec3{ex, ey, ez}

	// Dominant axis first
	order := [3]int{0, 1, 2}
	if lengths[order[1]] > lengths[order[0]] {
		order[0], order[1] = order[1], order[0]
	}
	if lengths[order[2]] > lengths[order[0]] {
		order[0], order[2] = order[2], order[0]
	}

	for _, l := range lengths {
		if l < minEdgeLength {
			return voxel.ErrDegenerateBasis
		}
	}

	// Modified Gram-Schmidt in dominant order
	var ortho [3]mgl64.Vec3
	u0 := edges[order[0]].Normalize()
	v1 := edges[order[1]].Sub(u0.Mul(edges[order[1]].Dot(u0)))
	if v1.Len() < minEdgeLength {
		return voxel.ErrDegenerateBasis
	}
	u1 := v1.Normalize()
	v2 := edges[order[2]].Sub(u0.Mul(edges[order[2]].Dot(u0)))
	v2 = v2.Sub(u1.Mul(v2.Dot(u1)))
	if v2.Len() < minEdgeLength {
		return voxel.ErrDegenerateBasis
	}
	u2 := v2.Normalize()
	ortho[order[0]], ortho[order[1]], ortho[order[2]] = u0, u1, u2

	// Rescale so the target parallelepiped has exactly the rest volume
	// while keeping the current edge-length proportions.
	current := lengths[0] * lengths[1] * lengths[2]
	scale := math.Cbrt(restVolume / current)

	var target [3]mgl64.Vec3
	for i := 0; i < 3; i++ {
		target[i] = ortho[i].Mul(lengths[i] * scale)
	}

	// Relaxation blend, not a hard snap
	var blended [3]mgl64.Vec3
	for i := 0; i < 3; i++ {
		blended[i] = edges[i].Add(target[i].Sub(edges[i]).Mul(alpha))
	}

	// Reconstruct the 8 corner targets around the preserved centroid.
	// All corners share the same mass, so the mass-weighted correction is
	// a uniform replacement.
	var centroid mgl64.Vec3
	for _, c := range corners {
		centroid = centroid.Add(c)
	}
	centroid = centroid.Mul(1.0 / 8.0)

	for i := range corners {
		sx, sy, sz := -0.5, -0.5, -0.5
		if i&1 != 0 {
			sx = 0.5
		}
		if i&2 != 0 {
			sy = 0.5
		}
		if i&4 != 0 {
			sz = 0.5
		}
		corners[i] = centroid.
			Add(blended[0].Mul(sx)).
			Add(blended[1].Mul(sy)).
			Add(blended[2].Mul(sz))
	}

	return nil
}
