package rigid

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

// Config are the transition thresholds.
type Config struct {
	// FreezeEnergy - per-voxel kinetic energy below which a voxel counts
	// as calm
	FreezeEnergy float64
	// FreezeStrain - max face strain below which a voxel counts as
	// undeformed
	FreezeStrain float64
	// FreezeFrames - consecutive calm frames required before a cluster
	// freezes
	FreezeFrames int
	// ThawForce - net force magnitude on a frozen group that triggers
	// thawing
	ThawForce float64
	// ThawSpeed - relative impact speed that triggers thawing
	ThawSpeed float64
}

// DefaultConfig returns thresholds tuned for unit-width voxels.
func DefaultConfig() Config {
	return Config{
		FreezeEnergy: 1e-4,
		FreezeStrain: 0.05,
		FreezeFrames: 30,
		ThawForce:    5.0,
		ThawSpeed:    2.0,
	}
}

// Transition records one freeze or thaw performed during a step.
type Transition struct {
	Group  *Group
	Frozen bool
}

// Manager runs the Soft -> Rigid -> Soft state machine per connected
// voxel cluster. It owns the frozen groups; no other phase writes them.
type Manager struct {
	Config Config

	groups  []*Group
	frozen  map[voxel.ID]*Group
	counter map[voxel.ID]int
}

// NewManager creates a manager with the given thresholds.
func NewManager(config Config) *Manager {
	return &Manager{
		Config:  config,
		frozen:  make(map[voxel.ID]*Group),
		counter: make(map[voxel.ID]int),
	}
}

// Groups returns the live frozen groups.
func (m *Manager) Groups() []*Group {
	return m.groups
}

// IsFrozen reports whether a voxel belongs to a frozen group. Frozen
// voxels are skipped by every simulation phase.
func (m *Manager) IsFrozen(id voxel.ID) bool {
	_, ok := m.frozen[id]
	return ok
}

// GroupOf returns the frozen group owning a voxel.
func (m *Manager) GroupOf(id voxel.ID) (*Group, bool) {
	g, ok := m.frozen[id]
	return g, ok
}

// Observe updates the stability counter for one soft voxel. Called once
// per step per simulated voxel.
func (m *Manager) Observe(store *voxel.Store, id voxel.ID) {
	v := store.Voxel(id)
	mass := store.Materials.Lookup(v.Material).Density * store.RestVolume()

	// A rolled-back voxel has zero velocity and counts as calm; freezing
	// is a valid way to contain it.
	calm := v.KineticEnergy(mass) < m.Config.FreezeEnergy
	if calm {
		for _, s := range v.Strain {
			if float64(s) > m.Config.FreezeStrain {
				calm = false
				break
			}
		}
	}

	if calm {
		m.counter[id]++
	} else {
		delete(m.counter, id)
	}
}

// FreezeEligible scans the stability counters and freezes every connected
// component whose members have all been calm for FreezeFrames. Returns
// the transitions performed.
func (m *Manager) FreezeEligible(store *voxel.Store) []Transition {
	var transitions []Transition
	claimed := make(map[voxel.ID]bool)

	for id, frames := range m.counter {
		if frames < m.Config.FreezeFrames || claimed[id] || m.IsFrozen(id) {
			continue
		}
		if !store.Alive(id) {
			delete(m.counter, id)
			continue
		}

		component := store.Component(id)
		eligible := true
		for _, member := range component {
			claimed[member] = true
			if m.counter[member] < m.Config.FreezeFrames || m.IsFrozen(member) {
				eligible = false
			}
		}
		if !eligible {
			continue
		}

		group := m.freeze(store, component)
		transitions = append(transitions, Transition{Group: group, Frozen: true})
	}
	return transitions
}

func (m *Manager) freeze(store *voxel.Store, component []voxel.ID) *Group {
	group := NewGroup(store, component)
	m.groups = append(m.groups, group)
	for _, id := range component {
		m.frozen[id] = group
		delete(m.counter, id)
	}
	return group
}

// Step integrates every frozen group against the sampled force field and
// thaws groups hit harder than the thresholds. sample returns the net
// force and torque over the group's bounding volume about its COM.
// Frozen clusters are presumed supported: no gravity, field impulses
// only.
func (m *Manager) Step(store *voxel.Store, dt float64,
	sample func(g *Group) (force, torque mgl64.Vec3)) []Transition {

	var transitions []Transition
	kept := m.groups[:0]

	for _, group := range m.groups {
		force, torque := sample(group)

		if force.Len() > m.Config.ThawForce || group.Velocity.Len() > m.Config.ThawSpeed {
			m.thaw(store, group)
			transitions = append(transitions, Transition{Group: group, Frozen: false})
			continue
		}

		group.Integrate(dt, mgl64.Vec3{}, force, torque)
		group.ComputeAABB(store.Width)
		kept = append(kept, group)
	}

	m.groups = kept
	return transitions
}

// ThawAt force-thaws the group owning a voxel, if any. Used for explicit
// interaction requests (digging, explosions resolved outside the field).
func (m *Manager) ThawAt(store *voxel.Store, id voxel.ID) (*Group, bool) {
	group, ok := m.frozen[id]
	if !ok {
		return nil, false
	}
	m.thaw(store, group)
	for i, g := range m.groups {
		if g == group {
			m.groups = append(m.groups[:i], m.groups[i+1:]...)
			break
		}
	}
	return group, true
}

func (m *Manager) thaw(store *voxel.Store, group *Group) {
	group.Thaw(store)
	for _, id := range group.members {
		delete(m.frozen, id)
		delete(m.counter, id)
	}
}
