// Package lod maintains the octree level-of-detail hierarchy over the
// voxel store and decides at which granularity and frequency each region
// simulates.
package lod

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

// Level is the simulation granularity of a region.
type Level uint8

const (
	// LevelVoxel - full per-voxel constraint solving
	LevelVoxel Level = iota
	// Level8 - 2x2x2 voxel groups simulated as aggregates
	Level8
	// Level64 - 4x4x4 groups
	Level64
	// Level512 - 8x8x8 groups
	Level512
	// Level4096 - 16x16x16 groups
	Level4096
	// LevelFrozen - no simulation at all; the transition manager owns
	// the region
	LevelFrozen

	LevelCount = 6
)

// OctreeLevel returns the aggregate hierarchy depth backing this LOD
// level (0 = per-voxel).
func (l Level) OctreeLevel() int {
	if l >= LevelFrozen {
		return int(Level4096)
	}
	return int(l)
}

// Period returns the temporal staggering update period in steps.
// Coarser regions update less often.
func (l Level) Period() int64 {
	periods := [LevelCount]int64{1, 2, 4, 8, 16, 32}
	return periods[l]
}

func (l Level) String() string {
	names := [LevelCount]string{"voxel", "8", "64", "512", "4096", "frozen"}
	if int(l) < len(names) {
		return names[l]
	}
	return "?"
}

// MaxDepth is the number of aggregate levels (1-voxel up to 16³ groups).
const MaxDepth = 5

// Aggregate is the physics summary of one octree node: mass-weighted
// center of mass and velocity, total mass.
type Aggregate struct {
	Mass     float64
	COM      mgl64.Vec3
	Velocity mgl64.Vec3

	// PrevCOM is the center of mass after the previous propagation,
	// used to compute the delta pushed down to children.
	PrevCOM mgl64.Vec3

	members []voxel.ID
}

// Members returns the voxel IDs under this node. Only level-appropriate
// callers iterate it; the slice is rebuilt every step.
func (a *Aggregate) Members() []voxel.ID {
	return a.members
}

// State is the explicit octree LOD state value, passed into each phase.
// Exactly one phase per step writes it; no ambient globals.
type State struct {
	levels [MaxDepth]map[voxel.Cell]*Aggregate
	// previous COM survives rebuilds so coarse deltas accumulate
	// against the last propagated state
	prevCOM [MaxDepth]map[voxel.Cell]mgl64.Vec3
}

// NewState allocates an empty hierarchy.
func NewState() *State {
	s := &State{}
	for i := range s.levels {
		s.levels[i] = make(map[voxel.Cell]*Aggregate)
		s.prevCOM[i] = make(map[voxel.Cell]mgl64.Vec3)
	}
	return s
}

// nodeKey maps a voxel cell to its node key at a level. Arithmetic shift
// floors negative coordinates correctly.
func nodeKey(cell voxel.Cell, level int) voxel.Cell {
	return voxel.Cell{X: cell.X >> level, Y: cell.Y >> level, Z: cell.Z >> level}
}

// NodeAt returns the aggregate of the node containing cell at a level.
func (s *State) NodeAt(level int, cell voxel.Cell) (*Aggregate, bool) {
	agg, ok := s.levels[level][nodeKey(cell, level)]
	return agg, ok
}

// Nodes returns the populated node map of one level.
func (s *State) Nodes(level int) map[voxel.Cell]*Aggregate {
	return s.levels[level]
}

// BuildAggregates recomputes every level bottom-up by mass-weighted
// reduction. Level 0 reduces the voxels themselves; level L+1 reduces
// level L. Aggregates are never persisted independently of their
// children: the whole hierarchy is rebuilt here once per step.
func (s *State) BuildAggregates(store *voxel.Store) {
	for i := range s.levels {
		s.levels[i] = make(map[voxel.Cell]*Aggregate, len(s.levels[i]))
	}

	restVolume := store.RestVolume()
	store.Each(func(id voxel.ID, v *voxel.Voxel) {
		mass := store.Materials.Lookup(v.Material).Density * restVolume
		if mass <= 0 {
			return
		}

		cell := store.CellOf(id)
		centroid := v.Centroid(store.CellCenter(cell))
		velocity := v.MeanVelocity()

		key := nodeKey(cell, 0)
		agg, ok := s.levels[0][key]
		if !ok {
			agg = &Aggregate{}
			s.levels[0][key] = agg
		}
		agg.accumulate(mass, centroid, velocity)
		agg.members = append(agg.members, id)
	})

	for level := 1; level < MaxDepth; level++ {
		for childKey, child := range s.levels[level-1] {
			key := nodeKey(childKey, 1)
			agg, ok := s.levels[level][key]
			if !ok {
				agg = &Aggregate{}
				s.levels[level][key] = agg
			}
			agg.accumulate(child.Mass, child.COM, child.Velocity)
			agg.members = append(agg.members, child.members...)
		}
	}

	// Seed PrevCOM from the last propagated state, or from the fresh COM
	// for nodes seen for the first time. Entries whose node vanished in
	// the rebuild are dropped, otherwise the map grows without bound as
	// voxels migrate or fracture away.
	for level := range s.levels {
		for key := range s.prevCOM[level] {
			if _, ok := s.levels[level][key]; !ok {
				delete(s.prevCOM[level], key)
			}
		}
		for key, agg := range s.levels[level] {
			if prev, ok := s.prevCOM[level][key]; ok {
				agg.PrevCOM = prev
			} else {
				agg.PrevCOM = agg.COM
			}
		}
	}
}

func (a *Aggregate) accumulate(mass float64, com, velocity mgl64.Vec3) {
	total := a.Mass + mass
	if total <= 0 {
		return
	}
	a.COM = a.COM.Mul(a.Mass / total).Add(com.Mul(mass / total))
	a.Velocity = a.Velocity.Mul(a.Mass / total).Add(velocity.Mul(mass / total))
	a.Mass = total
}

// PropagateDelta pushes a coarse node's net position and velocity change
// since the previous step down to all of its member voxels, uniformly.
// An approximation, not a re-simulation: fine detail within the node is
// carried along rigidly. Members matched by skip (frozen voxels owned by
// the transition manager) are left alone.
func (s *State) PropagateDelta(store *voxel.Store, level int, key voxel.Cell, skip func(voxel.ID) bool) {
	agg, ok := s.levels[level][key]
	if !ok {
		return
	}

	deltaPos := agg.COM.Sub(agg.PrevCOM)
	s.prevCOM[level][key] = agg.COM

	if deltaPos.Len() == 0 {
		return
	}

	for _, id := range agg.members {
		if skip != nil && skip(id) {
			continue
		}
		v := store.Voxel(id)
		switch v.Kind {
		case voxel.KindParticle:
			for i := range v.Corners {
				v.Corners[i] = v.Corners[i].Add(deltaPos)
				v.CornerVels[i] = agg.Velocity
			}
		default:
			v.Displacement = v.Displacement.Add(deltaPos)
			v.Velocity = agg.Velocity
		}
	}
}

// MoveNode shifts a coarse node's aggregate after integration, before
// propagation. The caller owns the LOD phase.
func (s *State) MoveNode(level int, key voxel.Cell, deltaPos, newVelocity mgl64.Vec3) {
	if agg, ok := s.levels[level][key]; ok {
		agg.COM = agg.COM.Add(deltaPos)
		agg.Velocity = newVelocity
	}
}
