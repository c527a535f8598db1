package constraint

import (
	"github.com/akmonengine/crumble/voxel"
	"github.com/go-gl/mathgl/mgl64"
)

// ColorCount is the number of edge-color batches. Face constraints are
// grid edges; axis (3) times minimum-coordinate parity (2) is a proper
// coloring, so no two constraints in one batch share a voxel and a batch
// can be solved in full parallel.
const ColorCount = 6

// strainRetention keeps a fraction of the accumulated strain between
// iterations, so repeated moderate stretch eventually breaks a face that
// a single solve pass would tolerate.
const strainRetention = 0.95

// FaceConstraint is a directed connection between two adjacent voxels'
// shared face. Breaking is monotonic: once Broken is set the constraint
// is skipped forever and never re-forms.
type FaceConstraint struct {
	A, B voxel.ID
	// Face on A pointing toward B
	Face voxel.Face

	Strain float64
	Broken bool
	// JustBroken is set by Solve and cleared by the event sweep
	JustBroken bool
}

// Set holds the live face constraints for one adjacency epoch, bucketed
// by color batch. It is rebuilt whenever adjacency changes (placement,
// migration, removal).
type Set struct {
	constraints []FaceConstraint
	colors      [ColorCount][]int32
}

// BuildSet scans the store's intact face-connectivity bits and creates
// one constraint per connected face pair. Strain carries over from the
// voxels' per-face strain so rebuilds do not reset fatigue.
func BuildSet(store *voxel.Store) *Set {
	set := &Set{}

	store.Each(func(id voxel.ID, v *voxel.Voxel) {
		for _, f := range [3]voxel.Face{voxel.FacePosX, voxel.FacePosY, voxel.FacePosZ} {
			if !v.Faces.Has(f) {
				continue
			}
			nid, ok := store.Lookup(store.CellOf(id).Add(f.Offset()))
			if !ok || !store.Voxel(nid).Faces.Has(f.Opposite()) {
				continue
			}

			idx := int32(len(set.constraints))
			set.constraints = append(set.constraints, FaceConstraint{
				A:      id,
				B:      nid,
				Face:   f,
				Strain: float64(v.Strain[f]),
			})

			axis := int(f) / 2
			coord := [3]int{store.CellOf(id).X, store.CellOf(id).Y, store.CellOf(id).Z}[axis]
			color := axis*2 + coord&1
			set.colors[color] = append(set.colors[color], idx)
		}
	})

	return set
}

// Len returns the number of constraints, broken included.
func (s *Set) Len() int {
	return len(s.constraints)
}

// Intact returns the number of unbroken constraints.
func (s *Set) Intact() int {
	n := 0
	for i := range s.constraints {
		if !s.constraints[i].Broken {
			n++
		}
	}
	return n
}

// ColorBatch returns the constraints of one color class.
func (s *Set) ColorBatch(color int) []int32 {
	return s.colors[color]
}

// At returns a mutable reference to constraint i.
func (s *Set) At(i int32) *FaceConstraint {
	return &s.constraints[i]
}

// Each visits every constraint.
func (s *Set) Each(fn func(c *FaceConstraint)) {
	for i := range s.constraints {
		fn(&s.constraints[i])
	}
}

// faceCenter returns the world-space center of one face of a voxel, in
// either representation.
func faceCenter(store *voxel.Store, id voxel.ID, f voxel.Face) mgl64.Vec3 {
	v := store.Voxel(id)
	if v.Kind == voxel.KindElement {
		center := store.CellCenter(store.CellOf(id)).Add(v.Displacement)
		return center.Add(v.Orientation.Rotate(f.Normal().Mul(store.Width * 0.5)))
	}

	// The 4 corners whose axis bit matches the face side
	axisBit := 1 << (int(f) / 2)
	positive := int(f)%2 == 1

	var sum mgl64.Vec3
	for i, c := range v.Corners {
		if (i&axisBit != 0) == positive {
			sum = sum.Add(c)
		}
	}
	return sum.Mul(0.25)
}

// Solve pulls the two face centers of an intact constraint together and
// accumulates strain. When the implied correction exceeds the combined
// material break threshold the constraint breaks: monotonic, correction
// skipped, connectivity bits severed on both voxels.
//
// active gates which endpoints may move this step: a frozen or staggered
// endpoint is treated as static and the active side absorbs the full
// correction. A constraint with no active endpoint is left untouched.
//
// Writes touch only the two endpoint voxels, which the color batching
// guarantees are not shared with any concurrently solved constraint.
func (c *FaceConstraint) Solve(store *voxel.Store, alpha float64, active func(voxel.ID) bool) {
	if c.Broken {
		return
	}

	activeA, activeB := active(c.A), active(c.B)
	if !activeA && !activeB {
		return
	}

	va := store.Voxel(c.A)
	vb := store.Voxel(c.B)

	centerA := faceCenter(store, c.A, c.Face)
	centerB := faceCenter(store, c.B, c.Face.Opposite())
	delta := centerB.Sub(centerA)

	stretch := delta.Len() / store.Width
	c.Strain = max(stretch, c.Strain*strainRetention)
	va.Strain[c.Face] = float32(c.Strain)
	vb.Strain[c.Face.Opposite()] = float32(c.Strain)

	matA := store.Materials.Lookup(va.Material)
	matB := store.Materials.Lookup(vb.Material)

	if threshold := CombineThreshold(matA, matB); c.Strain > threshold {
		c.Broken = true
		c.JustBroken = true
		va.Faces = va.Faces.Without(c.Face)
		vb.Faces = vb.Faces.Without(c.Face.Opposite())
		return
	}

	stiffness := alpha * combineStiffness(matA, matB)
	correction := delta.Mul(0.5 * stiffness)

	if activeA && activeB {
		applyFaceCorrection(store, c.A, c.Face, correction)
		applyFaceCorrection(store, c.B, c.Face.Opposite(), correction.Mul(-1))
	} else if activeA {
		applyFaceCorrection(store, c.A, c.Face, correction.Mul(2))
	} else {
		applyFaceCorrection(store, c.B, c.Face.Opposite(), correction.Mul(-2))
	}
}

// BreakPosition returns the midpoint between the two separated faces,
// reported in fracture events.
func (c *FaceConstraint) BreakPosition(store *voxel.Store) mgl64.Vec3 {
	return faceCenter(store, c.A, c.Face).
		Add(faceCenter(store, c.B, c.Face.Opposite())).Mul(0.5)
}

func combineStiffness(a, b voxel.Material) float64 {
	return (a.Stiffness + b.Stiffness) * 0.5
}

// applyFaceCorrection moves one voxel's face toward the shared boundary.
// Particle voxels move the 4 face corners; element voxels translate.
func applyFaceCorrection(store *voxel.Store, id voxel.ID, f voxel.Face, correction mgl64.Vec3) {
	v := store.Voxel(id)
	if v.Kind == voxel.KindElement {
		v.Displacement = v.Displacement.Add(correction)
		return
	}

	axisBit := 1 << (int(f) / 2)
	positive := int(f)%2 == 1
	for i := range v.Corners {
		if (i&axisBit != 0) == positive {
			v.Corners[i] = v.Corners[i].Add(correction)
		}
	}
}
