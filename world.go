// Package crumble is a dual-representation voxel soft-body solver:
// particle voxels under volume-preserving Gram-Schmidt constraints,
// breakable face constraints, an octree LOD scheduler that coarsens
// simulation by distance, and a sparse force-field grid decoupling the
// systems that push the voxels around.
package crumble

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"github.com/akmonengine/crumble/constraint"
	"github.com/akmonengine/crumble/field"
	"github.com/akmonengine/crumble/lod"
	"github.com/akmonengine/crumble/rigid"
	"github.com/akmonengine/crumble/voxel"
)

const DEFAULT_WORKERS = 1

// StepStats is the per-step diagnostic summary. Recoverable numeric
// issues show up here, never as errors: a single malformed voxel
// degrades locally without failing the step.
type StepStats struct {
	Frame             int64
	Placed            int
	FineVoxels        int
	CoarseNodes       int
	FrozenGroups      int
	Fractures         int
	Migrations        int
	Collisions        int
	Freezes           int
	Thaws             int
	DegenerateBases   int
	NumericRollbacks  int
	FieldCellsEvicted int
}

type World struct {
	Store       *voxel.Store
	Field       *field.Grid
	Octree      *lod.State
	Scheduler   *lod.Scheduler
	Transitions *rigid.Manager
	Production  *voxel.ProductionQueue

	Camera  lod.Camera
	Gravity mgl64.Vec3
	Workers int
	Params  constraint.Params

	Events Events
	Log    *logrus.Logger

	constraints    *constraint.Set
	adjacencyDirty bool
	frame          int64
}

// NewWorld wires a world from a config and a material table.
func NewWorld(config Config, materials *voxel.Table) *World {
	fieldGrid := field.NewGrid(config.Field.CellSize)
	fieldGrid.MaxCellsPerChannel = config.Field.MaxCellsPerChannel

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	fieldGrid.Log = log

	return &World{
		Store: voxel.NewStore(config.World.VoxelWidth, materials),
		Field: fieldGrid,
		Octree: lod.NewState(),
		Scheduler: lod.NewScheduler(lod.Config{
			Distances:           config.LOD.Distances,
			HysteresisBand:      config.LOD.HysteresisBand,
			OutOfFrustumPenalty: config.LOD.OutOfFrustumPenalty,
		}),
		Transitions: rigid.NewManager(rigid.Config{
			FreezeEnergy: config.Transition.FreezeEnergy,
			FreezeStrain: config.Transition.FreezeStrain,
			FreezeFrames: config.Transition.FreezeFrames,
			ThawForce:    config.Transition.ThawForce,
			ThawSpeed:    config.Transition.ThawSpeed,
		}),
		Production: voxel.NewProductionQueue(1024),
		Camera: lod.Camera{
			Forward:      mgl64.Vec3{0, 0, -1},
			HalfAngleCos: 0.5,
		},
		Gravity: mgl64.Vec3{0, -config.World.Gravity, 0},
		Workers: config.World.Workers,
		Params: constraint.Params{
			Iterations: config.Solver.Iterations,
			Alpha:      config.Solver.Alpha,
		},
		Events: NewEvents(),
		Log:    log,
	}
}

// AddForce is the external injection point: explosions, wind, player
// interaction. Safe to call concurrently with other writers, not with a
// running Step.
func (w *World) AddForce(channel field.ChannelID, position, force mgl64.Vec3, magnitude float64) {
	w.Field.AddForce(channel, position, force, magnitude)
}

// Touch is an explicit interaction request: the voxel promotes to
// particle form and its frozen group, if any, thaws.
func (w *World) Touch(cell voxel.Cell) {
	id, ok := w.Store.Lookup(cell)
	if !ok {
		return
	}
	if group, thawed := w.Transitions.ThawAt(w.Store, id); thawed {
		w.Events.emit(ThawEvent{Group: group})
	}
	w.Store.Promote(id)
}

// Step advances the simulation by dt. Phases run in sequence with a full
// barrier between them; a step always runs to completion.
func (w *World) Step(dt float64) StepStats {
	w.Workers = max(DEFAULT_WORKERS, w.Workers)
	stats := StepStats{Frame: w.frame}

	// Phase 0: intake from the async producer, constraint set rebuild
	if w.Production != nil {
		stats.Placed = w.Production.Drain(w.Store)
		if stats.Placed > 0 {
			w.adjacencyDirty = true
		}
	}
	if w.constraints == nil || w.adjacencyDirty {
		w.constraints = constraint.BuildSet(w.Store)
		w.adjacencyDirty = false
	}

	// Phase 1: LOD selection, representation transitions, active set
	fine, coarse := w.classifyRegions(&stats)
	active := make([]bool, w.Store.Cap())
	for _, id := range fine {
		active[id] = true
	}
	isActive := func(id voxel.ID) bool { return active[id] }
	stats.FineVoxels = len(fine)

	// Phase 2: force sampling and prediction
	pre := w.integrate(dt, fine)

	// Phase 3: constraint solve iterations
	var degenerate atomic.Int64
	for iter := 0; iter < w.Params.Iterations; iter++ {
		w.solveVolumes(fine, &degenerate)
		w.solveFaces(isActive)
	}
	contacts := constraint.DetectContacts(w.Store, w.Params.Alpha, isActive)
	stats.DegenerateBases += int(degenerate.Load())

	// Phase 4: commit positions, derive velocities, roll back NaN/Inf
	stats.NumericRollbacks = w.commit(dt, fine, pre)

	// Phase 5: migration re-snap
	for _, id := range fine {
		if oldCell, newCell, migrated := w.Store.Resnap(id); migrated {
			w.Events.emit(MigrationEvent{Voxel: id, OldCell: oldCell, NewCell: newCell})
			w.adjacencyDirty = true
			stats.Migrations++
		}
	}

	// Phase 6: fracture and collision sweep
	w.sweepFractures(&stats)
	for _, c := range contacts {
		w.Events.emit(CollisionEvent{
			VoxelA:       c.A,
			VoxelB:       c.B,
			ContactPoint: c.Point,
			Normal:       c.Normal,
		})
		// Reaction into the field: scraping faces feed the friction
		// channel other systems (wear, heat CA) read from.
		w.Field.AddForce(field.ChannelFriction, c.Point, c.Normal.Mul(c.Depth), 0)
		stats.Collisions++
	}

	// Phase 7: octree aggregation and coarse-level simulation
	w.Octree.BuildAggregates(w.Store)
	stats.CoarseNodes = w.stepCoarse(dt, coarse)

	// Phase 8: rigid/soft transitions
	w.stepTransitions(dt, fine, &stats)

	// Phase 9: field decay and budget enforcement
	stats.FieldCellsEvicted = w.Field.Update(dt)

	w.frame++
	w.Events.flush()

	w.Log.WithFields(logrus.Fields{
		"frame":     stats.Frame,
		"fine":      stats.FineVoxels,
		"coarse":    stats.CoarseNodes,
		"frozen":    stats.FrozenGroups,
		"fractures": stats.Fractures,
	}).Debug("step complete")

	return stats
}

type coarseRegion struct {
	region lod.RegionKey
	level  lod.Level
}

// classifyRegions groups live soft voxels by 8³ region, selects a LOD
// level per region and splits the due work into fine voxels and coarse
// regions. Frozen voxels belong to the transition manager and are
// excluded entirely.
func (w *World) classifyRegions(stats *StepStats) ([]voxel.ID, []coarseRegion) {
	regions := make(map[lod.RegionKey][]voxel.ID)
	w.Store.Each(func(id voxel.ID, v *voxel.Voxel) {
		if w.Transitions.IsFrozen(id) {
			return
		}
		key := lod.RegionOf(w.Store.CellOf(id))
		regions[key] = append(regions[key], id)
	})

	var fine, demote []voxel.ID
	var coarse []coarseRegion

	for region, members := range regions {
		center := lod.RegionCenter(region, w.Store.Width)
		distance, inFrustum := lod.EffectiveDistance(w.Camera, center)
		level := w.Scheduler.SelectLevel(region, distance, inFrustum)

		if !w.Scheduler.ShouldUpdate(region, level, w.frame) {
			continue
		}

		switch level {
		case lod.LevelVoxel:
			for _, id := range members {
				// A voxel rolled back last step sits out one cycle in
				// element form; the demotion re-derives a clean basis
				// from the restored corners.
				if w.Store.Voxel(id).Flags&voxel.FlagUnstable != 0 {
					demote = append(demote, id)
					continue
				}
				w.Store.Promote(id)
				fine = append(fine, id)
			}
		case lod.LevelFrozen:
			// Skipped entirely; the transition manager freezes the
			// cluster once its stability window completes.
			for _, id := range members {
				w.Transitions.Observe(w.Store, id)
			}
		default:
			demote = append(demote, members...)
			coarse = append(coarse, coarseRegion{region: region, level: level})
		}
	}

	// Demotions only write the voxel's own fields, so the batch runs in
	// parallel. A degenerate basis keeps the voxel in particle form for
	// one more step; anything else would be a bug worth surfacing.
	var degenerate atomic.Int64
	err := taskErr(w.Workers, demote, func(id voxel.ID) error {
		if err := w.Store.Demote(id); err != nil {
			if errors.Is(err, voxel.ErrDegenerateBasis) {
				degenerate.Add(1)
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		w.Log.WithError(err).Warn("demotion batch failed")
	}
	stats.DegenerateBases += int(degenerate.Load())

	return fine, coarse
}

// integrate samples the force field at each corner and advances the
// predicted corner positions. Returns the pre-step snapshot used for
// velocity derivation and NaN rollback.
func (w *World) integrate(dt float64, fine []voxel.ID) [][8]mgl64.Vec3 {
	pre := make([][8]mgl64.Vec3, len(fine))
	indices := make([]int, len(fine))
	for i := range indices {
		indices[i] = i
	}

	restVolume := w.Store.RestVolume()
	task(w.Workers, indices, func(i int) {
		v := w.Store.Voxel(fine[i])
		pre[i] = v.Corners

		mat := w.Store.Materials.Lookup(v.Material)
		mass := mat.Density * restVolume
		if mass <= 0 {
			return
		}
		damping := math.Exp(-mat.Damping * dt)

		for c := range v.Corners {
			force := w.Field.Sample(field.ChannelKinetic, v.Corners[c]).
				Add(w.Field.Sample(field.ChannelPressure, v.Corners[c]))
			accel := w.Gravity.Add(force.Mul(1 / mass))

			v.CornerVels[c] = v.CornerVels[c].Add(accel.Mul(dt)).Mul(damping)
			v.Corners[c] = v.Corners[c].Add(v.CornerVels[c].Mul(dt))
		}
	})
	return pre
}

// solveVolumes runs one Jacobi volume pass: every voxel reads and writes
// only its own corners, so the whole pass is a single parallel batch.
func (w *World) solveVolumes(fine []voxel.ID, degenerate *atomic.Int64) {
	restVolume := w.Store.RestVolume()
	task(w.Workers, fine, func(id voxel.ID) {
		v := w.Store.Voxel(id)
		alpha := w.Params.Alpha * w.Store.Materials.Lookup(v.Material).Stiffness
		// The volume bias folds conservation losses from earlier
		// representation transitions back into the target volume.
		target := restVolume
		if v.VolumeBias > 0 {
			target *= v.VolumeBias
		}
		if err := constraint.SolveVolume(&v.Corners, target, alpha); err != nil {
			degenerate.Add(1)
			v.Flags |= voxel.FlagUnstable
		}
	})
}

// solveFaces runs the six color batches sequentially, each batch in full
// parallel; the edge coloring guarantees no two constraints of a batch
// share a voxel.
func (w *World) solveFaces(isActive func(voxel.ID) bool) {
	for color := 0; color < constraint.ColorCount; color++ {
		batch := w.constraints.ColorBatch(color)
		task(w.Workers, batch, func(idx int32) {
			w.constraints.At(idx).Solve(w.Store, w.Params.Alpha, isActive)
		})
	}
}

// commit derives corner velocities from the solved positions (PBD style)
// and rolls back voxels that went non-finite.
func (w *World) commit(dt float64, fine []voxel.ID, pre [][8]mgl64.Vec3) int {
	var rollbacks atomic.Int64
	indices := make([]int, len(fine))
	for i := range indices {
		indices[i] = i
	}

	task(w.Workers, indices, func(i int) {
		v := w.Store.Voxel(fine[i])

		if !constraint.FiniteCorners(v.Corners) {
			// Local containment: clamp to the pre-step position, kill
			// the energy, flag for demotion-or-freeze next cycle.
			v.Corners = pre[i]
			for c := range v.CornerVels {
				v.CornerVels[c] = mgl64.Vec3{}
			}
			v.Flags |= voxel.FlagUnstable
			rollbacks.Add(1)
			return
		}

		invDt := 1 / dt
		for c := range v.Corners {
			v.CornerVels[c] = v.Corners[c].Sub(pre[i][c]).Mul(invDt)
		}
		v.Flags &^= voxel.FlagUnstable
	})
	return int(rollbacks.Load())
}

// sweepFractures turns freshly broken constraints into events and feeds
// the released strain back into the kinetic channel.
func (w *World) sweepFractures(stats *StepStats) {
	w.constraints.Each(func(c *constraint.FaceConstraint) {
		if !c.JustBroken {
			return
		}
		c.JustBroken = false
		position := c.BreakPosition(w.Store)

		w.Events.emit(FractureEvent{Voxel: c.A, Face: c.Face, Position: position})
		w.Field.AddForce(field.ChannelKinetic, position, c.Face.Normal().Mul(c.Strain), c.Strain)

		w.adjacencyDirty = true
		stats.Fractures++
	})
}

// stepCoarse integrates the octree aggregates backing each coarse region
// and pushes the resulting deltas down to the member voxels. Gravity is
// omitted: a region only coarsens once it is calm, so its structure is
// presumed supported; only field impulses move it.
func (w *World) stepCoarse(dt float64, coarse []coarseRegion) int {
	type nodeRef struct {
		level int
		key   voxel.Cell
	}
	visited := make(map[nodeRef]bool)
	integrated := 0

	skipFrozen := func(id voxel.ID) bool { return w.Transitions.IsFrozen(id) }

	for _, cr := range coarse {
		level := cr.level.OctreeLevel()
		for _, key := range nodesForRegion(cr.region, level) {
			ref := nodeRef{level: level, key: key}
			if visited[ref] {
				continue
			}
			visited[ref] = true

			agg, ok := w.Octree.NodeAt(level, voxel.Cell{
				X: key.X << level, Y: key.Y << level, Z: key.Z << level,
			})
			if !ok || agg.Mass <= 0 {
				continue
			}

			size := w.Store.Width * float64(int(1)<<level)
			min := mgl64.Vec3{float64(key.X) * size, float64(key.Y) * size, float64(key.Z) * size}
			max := min.Add(mgl64.Vec3{size, size, size})

			kinetic, _ := w.Field.SampleVolume(field.ChannelKinetic, min, max, agg.COM)
			pressure, _ := w.Field.SampleVolume(field.ChannelPressure, min, max, agg.COM)
			force := kinetic.Add(pressure)
			velocity := agg.Velocity.Add(force.Mul(dt / agg.Mass))
			delta := velocity.Mul(dt)

			w.Octree.MoveNode(level, key, delta, velocity)
			w.Octree.PropagateDelta(w.Store, level, key, skipFrozen)
			integrated++
		}
	}
	return integrated
}

// nodesForRegion lists the octree node keys at a level that cover an 8³
// region. Levels at or below the region size subdivide it; the 16³ level
// contains it.
func nodesForRegion(region lod.RegionKey, level int) []voxel.Cell {
	if level > lod.RegionShift {
		return []voxel.Cell{{X: region.X >> 1, Y: region.Y >> 1, Z: region.Z >> 1}}
	}

	span := 1 << (lod.RegionShift - level)
	base := voxel.Cell{X: region.X * span, Y: region.Y * span, Z: region.Z * span}
	keys := make([]voxel.Cell, 0, span*span*span)
	for x := 0; x < span; x++ {
		for y := 0; y < span; y++ {
			for z := 0; z < span; z++ {
				keys = append(keys, voxel.Cell{X: base.X + x, Y: base.Y + y, Z: base.Z + z})
			}
		}
	}
	return keys
}

// stepTransitions observes fine voxels for stability, freezes eligible
// clusters and advances the frozen groups. Frozen clusters are presumed
// supported, so they integrate field impulses only.
func (w *World) stepTransitions(dt float64, fine []voxel.ID, stats *StepStats) {
	for _, id := range fine {
		w.Transitions.Observe(w.Store, id)
	}

	for _, tr := range w.Transitions.FreezeEligible(w.Store) {
		w.Events.emit(FreezeEvent{Group: tr.Group})
		stats.Freezes++
	}

	// Frozen groups feel the same channels the fine integrator sums, so
	// a pressure burst from a neighboring thaw can wake them.
	thawed := w.Transitions.Step(w.Store, dt, func(g *rigid.Group) (mgl64.Vec3, mgl64.Vec3) {
		box := g.AABB()
		kF, kT := w.Field.SampleVolume(field.ChannelKinetic, box.Min, box.Max, g.Transform.Position)
		pF, pT := w.Field.SampleVolume(field.ChannelPressure, box.Min, box.Max, g.Transform.Position)
		return kF.Add(pF), kT.Add(pT)
	})
	for _, tr := range thawed {
		w.Events.emit(ThawEvent{Group: tr.Group})
		// A thaw releases the cluster's kinetic energy into the field,
		// closing the loop for pressure-driven neighbors.
		w.Field.AddForce(field.ChannelPressure, tr.Group.Transform.Position,
			tr.Group.Velocity.Mul(tr.Group.Mass), tr.Group.KineticEnergy())
		stats.Thaws++
	}

	stats.FrozenGroups = len(w.Transitions.Groups())
}
