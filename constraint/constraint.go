// Package constraint implements the two position-based constraints of the
// solver: the volume-preserving Gram-Schmidt parallelepiped constraint
// (primary) and the breakable face-to-face constraint (secondary).
//
// The package holds the constraint math only; phase scheduling and worker
// fan-out live in the root package.
package constraint

import (
	"math"

	"github.com/akmonengine/crumble/voxel"
	"github.com/go-gl/mathgl/mgl64"
)

// Params are the solver tunables. The iteration count and relaxation
// factor trade stability against throughput; there is no single correct
// value, so both are exposed and validated empirically per use case.
type Params struct {
	// Iterations per step, typically 3-8
	Iterations int
	// Alpha is a global multiplier on the per-material stiffness, in [0,1]
	Alpha float64
}

// DefaultParams returns the values used by the examples.
func DefaultParams() Params {
	return Params{Iterations: 4, Alpha: 0.5}
}

// CombineThreshold merges the break thresholds of two materials with a
// geometric mean, same policy as friction combining in rigid contact
// solvers.
func CombineThreshold(a, b voxel.Material) float64 {
	return math.Sqrt(a.StrainThreshold * b.StrainThreshold)
}

// Finite reports whether a vector contains no NaN or Inf component.
func Finite(v mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return false
		}
	}
	return true
}

// FiniteCorners reports whether all 8 corners are finite.
func FiniteCorners(corners [8]mgl64.Vec3) bool {
	for _, c := range corners {
		if !Finite(c) {
			return false
		}
	}
	return true
}
