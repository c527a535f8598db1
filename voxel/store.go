package voxel

import (
	"github.com/go-gl/mathgl/mgl64"
)

// ID is a stable arena index for a voxel. IDs survive migration between
// cells; connectivity structures reference IDs, never pointers.
type ID int32

// InvalidID marks an empty arena slot or a missed lookup.
const InvalidID ID = -1

// Cell - coordinates of a grid cell in voxel space
type Cell struct {
	X, Y, Z int
}

// Add returns the cell offset by d.
func (c Cell) Add(d Cell) Cell {
	return Cell{c.X + d.X, c.Y + d.Y, c.Z + d.Z}
}

// Store owns all per-voxel physical state. It is mutated by exactly one
// phase per step; concurrent readers within a phase are safe because no
// phase both reads and writes the same field set.
type Store struct {
	// Width of one voxel in world units
	Width float64

	Materials *Table

	voxels []Voxel
	cellOf []Cell
	alive  []bool
	free   []ID

	cells map[Cell]ID
}

// NewStore creates an empty voxel store with the given voxel width.
func NewStore(width float64, materials *Table) *Store {
	return &Store{
		Width:     width,
		Materials: materials,
		cells:     make(map[Cell]ID),
	}
}

// Len returns the number of live voxels.
func (s *Store) Len() int {
	return len(s.voxels) - len(s.free)
}

// Cap returns the arena size; valid IDs are always below it.
func (s *Store) Cap() int {
	return len(s.voxels)
}

// CellCenter returns the world-space center of a grid cell.
func (s *Store) CellCenter(cell Cell) mgl64.Vec3 {
	return mgl64.Vec3{
		(float64(cell.X) + 0.5) * s.Width,
		(float64(cell.Y) + 0.5) * s.Width,
		(float64(cell.Z) + 0.5) * s.Width,
	}
}

// RestVolume returns the rest volume of one voxel.
func (s *Store) RestVolume() float64 {
	return s.Width * s.Width * s.Width
}

// Lookup returns the voxel ID occupying a cell.
func (s *Store) Lookup(cell Cell) (ID, bool) {
	id, ok := s.cells[cell]
	return id, ok
}

// CellOf returns the grid cell a voxel is snapped to.
func (s *Store) CellOf(id ID) Cell {
	return s.cellOf[id]
}

// Voxel returns a mutable reference into the arena. The pointer is only
// valid until the next Place call.
func (s *Store) Voxel(id ID) *Voxel {
	return &s.voxels[id]
}

// Alive reports whether the arena slot still holds a live voxel.
func (s *Store) Alive(id ID) bool {
	return int(id) < len(s.alive) && s.alive[id]
}

// Place creates an element voxel at rest in the given cell from a
// generation sample, connecting it to whatever live neighbors exist.
// Placing over an occupied cell replaces the previous voxel.
func (s *Store) Place(cell Cell, sample Sample) ID {
	if old, ok := s.cells[cell]; ok {
		s.remove(old)
	}
	if sample.MaterialID == 0 || sample.Density == 0 {
		return InvalidID
	}

	v := Voxel{
		Kind:        KindElement,
		Material:    MaterialID(sample.MaterialID),
		Orientation: mgl64.QuatIdent(),
		VolumeBias:  1.0,
	}
	for f := Face(0); f < FaceCount; f++ {
		if _, ok := s.cells[cell.Add(f.Offset())]; ok {
			v.Faces = v.Faces.With(f)
		}
	}

	id := s.alloc()
	s.voxels[id] = v
	s.cellOf[id] = cell
	s.alive[id] = true
	s.cells[cell] = id

	// Mirror the new connectivity on the neighbors
	for f := Face(0); f < FaceCount; f++ {
		if nid, ok := s.cells[cell.Add(f.Offset())]; ok {
			nv := &s.voxels[nid]
			nv.Faces = nv.Faces.With(f.Opposite())
		}
	}

	return id
}

// Set overwrites the voxel state for an ID, keeping its cell binding.
func (s *Store) Set(id ID, v Voxel) {
	s.voxels[id] = v
}

// Remove destroys a voxel (erosion, destruction, permanent migration out
// of the simulated region) and severs its neighbors' connectivity bits.
func (s *Store) Remove(id ID) {
	if s.Alive(id) {
		s.remove(id)
	}
}

func (s *Store) remove(id ID) {
	cell := s.cellOf[id]
	for f := Face(0); f < FaceCount; f++ {
		if nid, ok := s.cells[cell.Add(f.Offset())]; ok && nid != id {
			nv := &s.voxels[nid]
			nv.Faces = nv.Faces.Without(f.Opposite())
		}
	}
	delete(s.cells, cell)
	s.alive[id] = false
	s.free = append(s.free, id)
}

func (s *Store) alloc() ID {
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		return id
	}
	s.voxels = append(s.voxels, Voxel{})
	s.cellOf = append(s.cellOf, Cell{})
	s.alive = append(s.alive, false)
	return ID(len(s.voxels) - 1)
}

// Each calls fn for every live voxel.
func (s *Store) Each(fn func(id ID, v *Voxel)) {
	for i := range s.voxels {
		if s.alive[i] {
			fn(ID(i), &s.voxels[i])
		}
	}
}

// IDs returns the live voxel IDs in arena order. The order is stable
// across a step, which keeps the solver batches deterministic.
func (s *Store) IDs() []ID {
	ids := make([]ID, 0, s.Len())
	for i := range s.voxels {
		if s.alive[i] {
			ids = append(ids, ID(i))
		}
	}
	return ids
}

// Promote converts an element voxel to particle form by rotating the 8
// rest corner offsets by the element orientation, translating by grid
// center + displacement, and replicating the element velocity to all
// corners. Promoting a particle voxel is a no-op.
func (s *Store) Promote(id ID) {
	v := &s.voxels[id]
	if v.Kind == KindParticle {
		return
	}

	center := s.CellCenter(s.cellOf[id]).Add(v.Displacement)
	v.Corners = RestCorners(center, v.Orientation, s.Width)
	for i := range v.CornerVels {
		v.CornerVels[i] = v.Velocity
	}
	v.Kind = KindParticle
}

// Demote converts a particle voxel to element form: averaged edge vectors
// are orthonormalized with classical Gram-Schmidt, the basis packed into a
// quaternion, displacement and velocity reduced from the corners. On a
// degenerate basis the voxel stays in particle form for one more step and
// ErrDegenerateBasis is returned.
func (s *Store) Demote(id ID) error {
	v := &s.voxels[id]
	if v.Kind == KindElement {
		return nil
	}

	ex, ey, ez := EdgeVectors(v.Corners)
	basis, err := Orthonormalize(ex, ey, ez)
	if err != nil {
		return err
	}

	v.Orientation = BasisToQuat(basis)
	v.Displacement = v.Centroid(mgl64.Vec3{}).Sub(s.CellCenter(s.cellOf[id]))
	v.Velocity = v.MeanVelocity()
	// Track how much volume the particle form had drifted; the bias is
	// folded back in on the next promote-solve cycle.
	if rest := s.RestVolume(); rest > 0 {
		v.VolumeBias = Volume(ex, ey, ez) / rest
	}
	v.Kind = KindElement
	// A clean basis also clears the instability flag: the rollback state
	// has been re-derived into a well-formed element.
	v.Flags &^= FlagNeedsOrientation | FlagUnstable
	return nil
}

// Resnap re-voxelizes a drifted voxel: when its centroid has moved more
// than half a voxel width from its cell center, the voxel is re-bound to
// the nearest cell. Returns the old and new cells when a migration
// happened. The target cell must be empty; otherwise the voxel keeps its
// binding and drifts further (resolved by collision next step).
func (s *Store) Resnap(id ID) (oldCell, newCell Cell, migrated bool) {
	v := &s.voxels[id]
	cell := s.cellOf[id]
	centroid := v.Centroid(s.CellCenter(cell))
	offset := centroid.Sub(s.CellCenter(cell))

	half := s.Width * 0.5
	if absMax3(offset) <= half {
		return cell, cell, false
	}

	target := Cell{
		X: int(floorDiv(centroid.X(), s.Width)),
		Y: int(floorDiv(centroid.Y(), s.Width)),
		Z: int(floorDiv(centroid.Z(), s.Width)),
	}
	if target == cell {
		return cell, cell, false
	}
	if _, occupied := s.cells[target]; occupied {
		return cell, cell, false
	}

	// Old adjacency is void after the move; face constraints only re-form
	// through the adjacency recompute.
	for f := Face(0); f < FaceCount; f++ {
		if nid, ok := s.cells[cell.Add(f.Offset())]; ok && nid != id {
			nv := &s.voxels[nid]
			nv.Faces = nv.Faces.Without(f.Opposite())
		}
	}
	delete(s.cells, cell)
	s.cells[target] = id
	s.cellOf[id] = target
	v.Faces = 0
	if v.Kind == KindElement {
		v.Displacement = centroid.Sub(s.CellCenter(target))
	}
	return cell, target, true
}

// Component flood-fills the connected component containing id, following
// intact face-connectivity bits, and returns the member IDs in visit
// order.
func (s *Store) Component(id ID) []ID {
	if !s.Alive(id) {
		return nil
	}

	visited := map[ID]bool{id: true}
	queue := []ID{id}
	component := []ID{id}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		v := &s.voxels[cur]
		cell := s.cellOf[cur]
		for f := Face(0); f < FaceCount; f++ {
			if !v.Faces.Has(f) {
				continue
			}
			nid, ok := s.cells[cell.Add(f.Offset())]
			if !ok || visited[nid] {
				continue
			}
			visited[nid] = true
			queue = append(queue, nid)
			component = append(component, nid)
		}
	}
	return component
}

func absMax3(v mgl64.Vec3) float64 {
	m := v.X()
	if m < 0 {
		m = -m
	}
	for _, c := range []float64{v.Y(), v.Z()} {
		if c < 0 {
			c = -c
		}
		if c > m {
			m = c
		}
	}
	return m
}

func floorDiv(x, w float64) float64 {
	q := x / w
	f := float64(int(q))
	if q < 0 && q != f {
		f--
	}
	return f
}
