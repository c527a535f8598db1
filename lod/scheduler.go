package lod

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

// RegionShift - regions are 8³ voxel bricks, the unit of level selection
// and temporal staggering.
const RegionShift = 3

// RegionKey identifies an 8³ voxel region.
type RegionKey struct {
	X, Y, Z int
}

// RegionOf returns the region containing a voxel cell.
func RegionOf(cell voxel.Cell) RegionKey {
	return RegionKey{X: cell.X >> RegionShift, Y: cell.Y >> RegionShift, Z: cell.Z >> RegionShift}
}

// Cell returns the region key as a cell at octree level RegionShift.
func (r RegionKey) Cell() voxel.Cell {
	return voxel.Cell{X: r.X, Y: r.Y, Z: r.Z}
}

// Camera is the viewer input to level selection.
type Camera struct {
	Position mgl64.Vec3
	// Forward must be normalized
	Forward mgl64.Vec3
	// HalfAngleCos - regions whose direction dot Forward is below this
	// are outside the frustum cone
	HalfAngleCos float64
}

// InFrustum reports whether a world point is inside the camera's view
// cone.
func (c Camera) InFrustum(point mgl64.Vec3) bool {
	dir := point.Sub(c.Position)
	if dir.Len() == 0 {
		return true
	}
	return dir.Normalize().Dot(c.Forward) >= c.HalfAngleCos
}

// Config are the scheduler tunables.
type Config struct {
	// Boundaries in world units between consecutive levels:
	// voxel | 8 | 64 | 512 | 4096 | frozen
	Distances [LevelCount - 1]float64
	// HysteresisBand - fractional dead band around each boundary that
	// structurally prevents level oscillation
	HysteresisBand float64
	// OutOfFrustumPenalty multiplies the distance of regions outside the
	// view cone (and behind the camera), pushing them coarser
	OutOfFrustumPenalty float64
}

// DefaultConfig returns boundaries tuned for a voxel width of 1.
func DefaultConfig() Config {
	return Config{
		Distances:           [LevelCount - 1]float64{32, 64, 128, 256, 512},
		HysteresisBand:      0.15,
		OutOfFrustumPenalty: 4.0,
	}
}

// Scheduler selects a LOD level per region and staggers region updates
// over time so the per-step workload stays even.
type Scheduler struct {
	Config Config

	levels map[RegionKey]Level
}

// NewScheduler creates a scheduler with the given config.
func NewScheduler(config Config) *Scheduler {
	return &Scheduler{
		Config: config,
		levels: make(map[RegionKey]Level),
	}
}

// SelectLevel maps a region's effective camera distance to a level with
// hysteresis: crossing into a coarser level requires exceeding the
// boundary by the dead band, and refining requires undercutting it by
// the same margin. Deterministic for a given previous level.
func (s *Scheduler) SelectLevel(region RegionKey, cameraDistance float64, inFrustum bool) Level {
	effective := cameraDistance
	if !inFrustum {
		effective *= s.Config.OutOfFrustumPenalty
	}

	previous, known := s.levels[region]
	if !known {
		previous = LevelVoxel
	}

	raw := s.rawLevel(effective)
	selected := previous

	if raw > previous {
		// Coarsen only past the dead band above the boundary
		boundary := s.Config.Distances[previous]
		if effective > boundary*(1+s.Config.HysteresisBand) {
			selected = previous + 1
		}
	} else if raw < previous {
		// Refine only past the dead band below the boundary
		boundary := s.Config.Distances[previous-1]
		if effective < boundary*(1-s.Config.HysteresisBand) {
			selected = previous - 1
		}
	}

	s.levels[region] = selected
	return selected
}

// rawLevel is the step function without hysteresis.
func (s *Scheduler) rawLevel(effectiveDistance float64) Level {
	for i, boundary := range s.Config.Distances {
		if effectiveDistance < boundary {
			return Level(i)
		}
	}
	return LevelFrozen
}

// LevelOf returns the last selected level for a region.
func (s *Scheduler) LevelOf(region RegionKey) Level {
	return s.levels[region]
}

// Phase returns the deterministic stagger offset of a region for a given
// period, derived from a stable hash of the region identifier.
func Phase(region RegionKey, period int64) int64 {
	if period <= 1 {
		return 0
	}
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(int64(region.X)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(region.Y)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(int64(region.Z)))
	return int64(xxhash.Sum64(buf[:]) % uint64(period))
}

// ShouldUpdate reports whether a region is due this step, given its
// level's period and its stagger phase.
func (s *Scheduler) ShouldUpdate(region RegionKey, level Level, frame int64) bool {
	period := level.Period()
	if period <= 1 {
		return true
	}
	return (frame+Phase(region, period))%period == 0
}

// EffectiveDistance computes the penalized distance from the camera to a
// region center.
func EffectiveDistance(camera Camera, regionCenter mgl64.Vec3) (distance float64, inFrustum bool) {
	distance = regionCenter.Sub(camera.Position).Len()
	inFrustum = camera.InFrustum(regionCenter)
	// Behind the camera counts as out of frustum
	if regionCenter.Sub(camera.Position).Dot(camera.Forward) < 0 {
		inFrustum = false
	}
	return distance, inFrustum
}

// RegionCenter returns the world-space center of a region for a store's
// voxel width.
func RegionCenter(region RegionKey, width float64) mgl64.Vec3 {
	size := width * float64(int(1)<<RegionShift)
	return mgl64.Vec3{
		(float64(region.X) + 0.5) * size,
		(float64(region.Y) + 0.5) * size,
		(float64(region.Z) + 0.5) * size,
	}
}
