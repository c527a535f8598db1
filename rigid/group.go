// Package rigid implements the rigid/soft transition: stable, low-energy
// voxel clusters freeze into a single-transform rigid group (O(1) per
// frame instead of O(voxel count)) and thaw back on impact.
package rigid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

// AABB is the world-space bounding volume of a group.
type AABB struct {
	Min mgl64.Vec3
	Max mgl64.Vec3
}

// Group is a frozen connected component of voxels sharing one rigid
// transform. The per-voxel state is left in the store untouched while
// frozen; the group transform accumulates all motion and is written back
// on thaw.
type Group struct {
	Transform Transform

	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3

	Mass                float64
	InertiaLocal        mgl64.Mat3
	InverseInertiaLocal mgl64.Mat3

	LinearDamping  float64
	AngularDamping float64

	aabb AABB

	members []voxel.ID
	// local centroid offsets at freeze time, in the group frame
	offsets []mgl64.Vec3
	// freeze-time orientations, composed with the group rotation on thaw
	orientations []mgl64.Quat
}

// NewGroup freezes a connected voxel cluster: mass, center of mass and
// inertia tensor are computed once from the member voxels (treated as
// point masses at their centroids), and the aggregate velocity becomes
// the group velocity.
func NewGroup(store *voxel.Store, members []voxel.ID) *Group {
	g := &Group{
		Transform:    NewTransform(),
		members:      append([]voxel.ID(nil), members...),
		offsets:      make([]mgl64.Vec3, len(members)),
		orientations: make([]mgl64.Quat, len(members)),
	}

	restVolume := store.RestVolume()

	// Pass 1: mass and center of mass
	var com, momentum mgl64.Vec3
	for _, id := range members {
		v := store.Voxel(id)
		mass := store.Materials.Lookup(v.Material).Density * restVolume
		centroid := v.Centroid(store.CellCenter(store.CellOf(id)))

		g.Mass += mass
		com = com.Add(centroid.Mul(mass))
		momentum = momentum.Add(v.MeanVelocity().Mul(mass))
	}
	if g.Mass <= 0 {
		g.Mass = math.SmallestNonzeroFloat64
	}
	com = com.Mul(1 / g.Mass)
	g.Transform.Position = com
	g.Velocity = momentum.Mul(1 / g.Mass)

	// Pass 2: inertia tensor about the COM, point-mass approximation
	var inertia mgl64.Mat3
	for i, id := range members {
		v := store.Voxel(id)
		mass := store.Materials.Lookup(v.Material).Density * restVolume
		r := v.Centroid(store.CellCenter(store.CellOf(id))).Sub(com)
		g.offsets[i] = r
		if v.Kind == voxel.KindElement {
			g.orientations[i] = v.Orientation
		} else {
			g.orientations[i] = mgl64.QuatIdent()
		}

		r2 := r.Dot(r)
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				term := -r[row] * r[col]
				if row == col {
					term += r2
				}
				inertia[col*3+row] += mass * term
			}
		}
	}
	// A single point mass at the COM has a singular tensor; pad the
	// diagonal so the inverse exists.
	const inertiaFloor = 1e-9
	for i := 0; i < 3; i++ {
		inertia[i*3+i] += inertiaFloor
	}
	g.InertiaLocal = inertia
	g.InverseInertiaLocal = inertia.Inv()

	g.ComputeAABB(store.Width)
	return g
}

// Members returns the frozen voxel IDs.
func (g *Group) Members() []voxel.ID {
	return g.members
}

// AABB returns the current bounding volume.
func (g *Group) AABB() AABB {
	return g.aabb
}

// ComputeAABB rebuilds the bounding volume from the member offsets under
// the current transform, padded by half a voxel width.
func (g *Group) ComputeAABB(width float64) {
	if len(g.offsets) == 0 {
		g.aabb = AABB{Min: g.Transform.Position, Max: g.Transform.Position}
		return
	}

	first := g.Transform.Apply(g.offsets[0])
	min, max := first, first
	for _, offset := range g.offsets[1:] {
		p := g.Transform.Apply(offset)
		for i := 0; i < 3; i++ {
			min[i] = math.Min(min[i], p[i])
			max[i] = math.Max(max[i], p[i])
		}
	}
	half := mgl64.Vec3{width / 2, width / 2, width / 2}
	g.aabb = AABB{Min: min.Sub(half), Max: max.Add(half)}
}

// InverseInertiaWorld returns R * I_local⁻¹ * Rᵀ.
func (g *Group) InverseInertiaWorld() mgl64.Mat3 {
	R := g.Transform.Rotation.Mat4().Mat3()
	return R.Mul3(g.InverseInertiaLocal).Mul3(R.Transpose())
}

// Integrate advances the group transform under a net force and torque.
// Same scheme as a rigid body: semi-implicit linear step, world-space
// angular acceleration, exponential damping, quaternion derivative
// update.
func (g *Group) Integrate(dt float64, gravity, force, torque mgl64.Vec3) {
	accel := gravity.Add(force.Mul(1 / g.Mass))
	g.Velocity = g.Velocity.Add(accel.Mul(dt))
	g.Velocity = g.Velocity.Mul(math.Exp(-g.LinearDamping * dt))
	g.Transform.Position = g.Transform.Position.Add(g.Velocity.Mul(dt))

	angularAccel := g.InverseInertiaWorld().Mul3x1(torque)
	g.AngularVelocity = g.AngularVelocity.Add(angularAccel.Mul(dt))
	g.AngularVelocity = g.AngularVelocity.Mul(math.Exp(-g.AngularDamping * dt))

	omegaQuat := mgl64.Quat{V: g.AngularVelocity, W: 0}
	qDot := omegaQuat.Mul(g.Transform.Rotation).Scale(0.5)
	g.Transform.Rotation = g.Transform.Rotation.Add(qDot.Scale(dt)).Normalize()
	g.Transform.InverseRotation = g.Transform.Rotation.Inverse()
}

// VelocityAt returns the rigid velocity at a world point: linear plus
// angular contribution.
func (g *Group) VelocityAt(point mgl64.Vec3) mgl64.Vec3 {
	r := point.Sub(g.Transform.Position)
	return g.Velocity.Add(g.AngularVelocity.Cross(r))
}

// KineticEnergy returns the translational kinetic energy of the group.
func (g *Group) KineticEnergy() float64 {
	return 0.5 * g.Mass * g.Velocity.Dot(g.Velocity)
}

// Thaw writes the group transform back into the member voxels and seeds
// each voxel's velocity from the rigid velocity at its point. Freezing
// then immediately thawing with no applied impulse reproduces the
// pre-freeze state.
func (g *Group) Thaw(store *voxel.Store) {
	for i, id := range g.members {
		if !store.Alive(id) {
			continue
		}
		v := store.Voxel(id)
		world := g.Transform.Apply(g.offsets[i])
		velocity := g.VelocityAt(world)

		v.Kind = voxel.KindElement
		v.Orientation = g.Transform.Rotation.Mul(g.orientations[i]).Normalize()
		v.Displacement = world.Sub(store.CellCenter(store.CellOf(id)))
		v.Velocity = velocity
	}
}
