package constraint

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

// Contact records an unconnected voxel pair found interpenetrating
// through a shared cell boundary. Surfaced to the caller as a collision
// event after the solve phase.
type Contact struct {
	A, B   voxel.ID
	Point  mgl64.Vec3
	Normal mgl64.Vec3
	Depth  float64
}

// DetectContacts scans adjacent occupied cell pairs that have no intact
// face constraint and pushes interpenetrating pairs apart (PBD style,
// half correction each side). Voxels that fractured apart earlier in the
// step collide here instead of passing through each other.
//
// Runs single-threaded after the face batches; the pair count is small
// compared to the constraint count.
func DetectContacts(store *voxel.Store, alpha float64, active func(voxel.ID) bool) []Contact {
	var contacts []Contact

	store.Each(func(id voxel.ID, v *voxel.Voxel) {
		cell := store.CellOf(id)
		for _, f := range [3]voxel.Face{voxel.FacePosX, voxel.FacePosY, voxel.FacePosZ} {
			if v.Faces.Has(f) {
				continue
			}
			nid, ok := store.Lookup(cell.Add(f.Offset()))
			if !ok {
				continue
			}
			activeA, activeB := active(id), active(nid)
			if !activeA && !activeB {
				continue
			}

			normal := f.Normal()
			centerA := faceCenter(store, id, f)
			centerB := faceCenter(store, nid, f.Opposite())

			// Positive along the outward normal means B's face has crossed
			// into A's half-space.
			penetration := centerA.Sub(centerB).Dot(normal)
			if penetration <= 0 {
				continue
			}

			correction := normal.Mul(0.5 * alpha * penetration)
			if activeA && activeB {
				applyFaceCorrection(store, id, f, correction.Mul(-1))
				applyFaceCorrection(store, nid, f.Opposite(), correction)
			} else if activeA {
				applyFaceCorrection(store, id, f, correction.Mul(-2))
			} else {
				applyFaceCorrection(store, nid, f.Opposite(), correction.Mul(2))
			}

			contacts = append(contacts, Contact{
				A:      id,
				B:      nid,
				Point:  centerA.Add(centerB).Mul(0.5),
				Normal: normal,
				Depth:  penetration,
			})
		}
	})

	return contacts
}
