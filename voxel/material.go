package voxel

// MaterialID indexes the material property table. The value 0 is reserved
// for empty space and never simulated.
type MaterialID uint16

// Material holds the static physical properties of one material.
// The table is read-only during simulation.
type Material struct {
	Name string

	// Stiffness is the volume-constraint relaxation factor α in [0,1].
	// 0 = no correction, 1 = hard snap to the rest parallelepiped.
	Stiffness float64
	// Damping applied to corner velocities per second (0.0 - 1.0)
	Damping float64
	// StrainThreshold is the accumulated face strain above which a face
	// constraint breaks permanently.
	StrainThreshold float64
	// Density in mass units per world-unit³
	Density float64
}

// Table is the material property lookup, keyed by MaterialID.
type Table struct {
	materials []Material
}

// NewTable builds a table from a dense material list. Index 0 should be
// the empty material.
func NewTable(materials []Material) *Table {
	return &Table{materials: materials}
}

// DefaultTable returns a small built-in palette, useful for tests and
// examples.
func DefaultTable() *Table {
	return NewTable([]Material{
		{Name: "air"},
		{Name: "stone", Stiffness: 0.8, Damping: 0.05, StrainThreshold: 0.35, Density: 2.6},
		{Name: "dirt", Stiffness: 0.4, Damping: 0.15, StrainThreshold: 0.2, Density: 1.5},
		{Name: "wood", Stiffness: 0.6, Damping: 0.1, StrainThreshold: 0.5, Density: 0.7},
		{Name: "rubber", Stiffness: 0.2, Damping: 0.3, StrainThreshold: 2.0, Density: 1.1},
	})
}

// Lookup returns the material for an ID. Unknown IDs fall back to the
// empty material rather than panicking; a malformed voxel must not take
// the step down with it.
func (t *Table) Lookup(id MaterialID) Material {
	if int(id) >= len(t.materials) {
		return Material{}
	}
	return t.materials[id]
}

// Count returns the number of registered materials.
func (t *Table) Count() int {
	return len(t.materials)
}
