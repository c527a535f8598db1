package voxel

import "github.com/go-gl/mathgl/mgl64"

// Kind discriminates the two voxel representations. A voxel is in exactly
// one representation at any instant; transitions replace the whole value.
type Kind uint8

const (
	// KindParticle - 8 independently movable corner points, used for
	// high-fidelity/active voxels
	KindParticle Kind = iota
	// KindElement - one rigid unit with displacement + packed orientation,
	// used for calm voxels
	KindElement
)

// Face identifies one of the 6 axis-aligned voxel faces.
type Face uint8

const (
	FaceNegX Face = iota
	FacePosX
	FaceNegY
	FacePosY
	FaceNegZ
	FacePosZ

	FaceCount = 6
)

// Opposite returns the face on the other side of the shared boundary.
func (f Face) Opposite() Face {
	return f ^ 1
}

// Offset returns the cell delta crossed by this face.
func (f Face) Offset() Cell {
	switch f {
	case FaceNegX:
		return Cell{-1, 0, 0}
	case FacePosX:
		return Cell{1, 0, 0}
	case FaceNegY:
		return Cell{0, -1, 0}
	case FacePosY:
		return Cell{0, 1, 0}
	case FaceNegZ:
		return Cell{0, 0, -1}
	default:
		return Cell{0, 0, 1}
	}
}

// Normal returns the outward unit normal of the face.
func (f Face) Normal() mgl64.Vec3 {
	c := f.Offset()
	return mgl64.Vec3{float64(c.X), float64(c.Y), float64(c.Z)}
}

// FaceMask is the 6-bit face-connectivity bitmask. Bit i set means the
// face constraint through face i is still intact.
type FaceMask uint8

func (m FaceMask) Has(f Face) bool   { return m&(1<<f) != 0 }
func (m FaceMask) With(f Face) FaceMask { return m | (1 << f) }
func (m FaceMask) Without(f Face) FaceMask { return m &^ (1 << f) }

// FullFaceMask has all six connectivity bits set.
const FullFaceMask FaceMask = (1 << FaceCount) - 1

// Flags carries per-voxel status bits.
type Flags uint8

const (
	// FlagFree - voxel detached from the grid, simulated in free space
	FlagFree Flags = 1 << iota
	// FlagNeedsOrientation - element orientation is stale and must be
	// recomputed before the next promote
	FlagNeedsOrientation
	// FlagUnstable - NaN/Inf was detected last step; the voxel was rolled
	// back and should be demoted or frozen this cycle
	FlagUnstable
)

// Voxel is the atomic simulated unit, a tagged union over the two
// representations. Dispatch is an exhaustive switch on Kind; only the
// fields of the active representation are meaningful.
type Voxel struct {
	Kind     Kind
	Material MaterialID
	Faces    FaceMask
	Flags    Flags

	// Per-face accumulated strain
	Strain [FaceCount]float32

	// Particle representation
	Corners    [8]mgl64.Vec3
	CornerVels [8]mgl64.Vec3

	// Element representation
	Displacement mgl64.Vec3
	Velocity     mgl64.Vec3
	Orientation  mgl64.Quat
	// VolumeBias accumulates lossy volume drift across transitions,
	// nominal 1.0
	VolumeBias float64
}

// cornerOffsets are the unit-cube corner positions relative to the voxel
// center, ordered so bit 0 selects +X, bit 1 selects +Y, bit 2 selects +Z.
var cornerOffsets = [8]mgl64.Vec3{
	{-0.5, -0.5, -0.5},
	{+0.5, -0.5, -0.5},
	{-0.5, +0.5, -0.5},
	{+0.5, +0.5, -0.5},
	{-0.5, -0.5, +0.5},
	{+0.5, -0.5, +0.5},
	{-0.5, +0.5, +0.5},
	{+0.5, +0.5, +0.5},
}

// Centroid returns the mean corner position of a particle voxel, or the
// displaced center of an element voxel.
func (v *Voxel) Centroid(center mgl64.Vec3) mgl64.Vec3 {
	switch v.Kind {
	case KindParticle:
		var sum mgl64.Vec3
		for _, c := range v.Corners {
			sum = sum.Add(c)
		}
		return sum.Mul(1.0 / 8.0)
	default:
		return center.Add(v.Displacement)
	}
}

// MeanVelocity returns the average linear velocity of the voxel in either
// representation.
func (v *Voxel) MeanVelocity() mgl64.Vec3 {
	switch v.Kind {
	case KindParticle:
		var sum mgl64.Vec3
		for _, cv := range v.CornerVels {
			sum = sum.Add(cv)
		}
		return sum.Mul(1.0 / 8.0)
	default:
		return v.Velocity
	}
}

// KineticEnergy returns ½·m·v² summed over corners (particle) or over the
// single element, for the given voxel mass.
func (v *Voxel) KineticEnergy(mass float64) float64 {
	switch v.Kind {
	case KindParticle:
		cornerMass := mass / 8.0
		var e float64
		for _, cv := range v.CornerVels {
			e += 0.5 * cornerMass * cv.Dot(cv)
		}
		return e
	default:
		return 0.5 * mass * v.Velocity.Dot(v.Velocity)
	}
}
