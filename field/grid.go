// Package field implements the sparse force-field grid that decouples
// independent simulation systems. Wind, explosions, fluids and the solver
// itself all accumulate forces into named channels; readers sample with
// trilinear interpolation and never know who wrote.
package field

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
)

const (
	// shardCount shards each channel's cell map; accumulation is
	// commutative so per-shard locking is the only ordering needed.
	shardCount = 16

	// pruneEpsilon - cells decayed below this magnitude are removed,
	// keeping the grid sparse
	pruneEpsilon = 1e-4
)

// ChannelID indexes a registered force channel.
type ChannelID int

// Preset channels registered by NewGrid.
const (
	ChannelKinetic ChannelID = iota
	ChannelPressure
	ChannelThermal
	ChannelFriction
)

// CellKey - coordinates of a force cell in grid space
type CellKey struct {
	X, Y, Z int
}

// Cell holds the accumulated force of one sparse grid cell.
type Cell struct {
	Force     mgl64.Vec3
	Magnitude float64
	LastWrite int64
}

type shard struct {
	mu    sync.Mutex
	cells map[CellKey]*Cell
}

type channel struct {
	name      string
	decayRate float64
	shards    [shardCount]*shard
}

// Grid is the sparse force-field grid. AddForce may be called from any
// number of writers concurrently; Sample, SampleVolume and Update belong
// to their owning phases and are not synchronized against writers.
type Grid struct {
	// CellSize in world units
	CellSize float64
	// MaxCellsPerChannel is the resource budget; exceeding it degrades
	// the step by evicting the weakest/oldest cells, never by failing.
	MaxCellsPerChannel int

	Log *logrus.Logger

	channels []*channel
	frame    int64
}

// NewGrid creates a grid with the four preset channels (kinetic,
// pressure, thermal, friction) and their default decay rates.
func NewGrid(cellSize float64) *Grid {
	g := &Grid{
		CellSize:           cellSize,
		MaxCellsPerChannel: 1 << 16,
		Log:                discardLogger(),
	}
	g.RegisterChannel("kinetic", 2.0)
	g.RegisterChannel("pressure", 4.0)
	g.RegisterChannel("thermal", 0.5)
	g.RegisterChannel("friction", 8.0)
	return g
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}

// RegisterChannel adds a named channel with an exponential decay rate
// (per second) and returns its ID.
func (g *Grid) RegisterChannel(name string, decayRate float64) ChannelID {
	ch := &channel{name: name, decayRate: decayRate}
	for i := range ch.shards {
		ch.shards[i] = &shard{cells: make(map[CellKey]*Cell)}
	}
	g.channels = append(g.channels, ch)
	return ChannelID(len(g.channels) - 1)
}

// ChannelName returns the registered name of a channel.
func (g *Grid) ChannelName(id ChannelID) string {
	return g.channels[id].name
}

func hashKey(key CellKey) uint64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(int64(key.X)))
	binary.LittleEndian.PutUint64(buf[8:], uint64(int64(key.Y)))
	binary.LittleEndian.PutUint64(buf[16:], uint64(int64(key.Z)))
	return xxhash.Sum64(buf[:])
}

func (g *Grid) worldToCell(pos mgl64.Vec3) CellKey {
	return CellKey{
		X: int(math.Floor(pos.X() / g.CellSize)),
		Y: int(math.Floor(pos.Y() / g.CellSize)),
		Z: int(math.Floor(pos.Z() / g.CellSize)),
	}
}

func (g *Grid) cellCenter(key CellKey) mgl64.Vec3 {
	return mgl64.Vec3{
		(float64(key.X) + 0.5) * g.CellSize,
		(float64(key.Y) + 0.5) * g.CellSize,
		(float64(key.Z) + 0.5) * g.CellSize,
	}
}

// AddForce accumulates a force vector into the cell containing position.
// magnitude 0 means "use the vector length". Accumulation is the only
// mutation, so concurrent adds commute and need no lock ordering.
func (g *Grid) AddForce(id ChannelID, position, force mgl64.Vec3, magnitude float64) {
	if magnitude == 0 {
		magnitude = force.Len()
	}
	if magnitude == 0 {
		return
	}

	key := g.worldToCell(position)
	ch := g.channels[id]
	sh := ch.shards[hashKey(key)&(shardCount-1)]

	sh.mu.Lock()
	cell, ok := sh.cells[key]
	if !ok {
		cell = &Cell{}
		sh.cells[key] = cell
	}
	cell.Force = cell.Force.Add(force)
	cell.Magnitude += magnitude
	cell.LastWrite = g.frame
	sh.mu.Unlock()
}

func (g *Grid) cellForce(ch *channel, key CellKey) mgl64.Vec3 {
	sh := ch.shards[hashKey(key)&(shardCount-1)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cell, ok := sh.cells[key]; ok {
		return cell.Force
	}
	return mgl64.Vec3{}
}

// Sample returns the trilinearly interpolated force at a world position,
// gathered across the 8 nearest sparse cells. Missing cells contribute
// zero.
func (g *Grid) Sample(id ChannelID, position mgl64.Vec3) mgl64.Vec3 {
	ch := g.channels[id]

	// Continuous cell coordinates, centered on cell centers
	cx := position.X()/g.CellSize - 0.5
	cy := position.Y()/g.CellSize - 0.5
	cz := position.Z()/g.CellSize - 0.5

	x0, y0, z0 := int(math.Floor(cx)), int(math.Floor(cy)), int(math.Floor(cz))
	fx, fy, fz := cx-float64(x0), cy-float64(y0), cz-float64(z0)

	var result mgl64.Vec3
	for dz := 0; dz <= 1; dz++ {
		wz := fz
		if dz == 0 {
			wz = 1 - fz
		}
		for dy := 0; dy <= 1; dy++ {
			wy := fy
			if dy == 0 {
				wy = 1 - fy
			}
			for dx := 0; dx <= 1; dx++ {
				wx := fx
				if dx == 0 {
					wx = 1 - fx
				}
				w := wx * wy * wz
				if w == 0 {
					continue
				}
				force := g.cellForce(ch, CellKey{x0 + dx, y0 + dy, z0 + dz})
				result = result.Add(force.Mul(w))
			}
		}
	}
	return result
}

// SampleVolume integrates the channel over an AABB and returns the net
// force of the covered cells and the net torque Σ r×F about pivot. A
// cell partially inside the box contributes in proportion to the
// covered fraction of its volume, so the result is the sum the member
// voxels would have sampled, not a per-point average.
func (g *Grid) SampleVolume(id ChannelID, min, max, pivot mgl64.Vec3) (netForce, netTorque mgl64.Vec3) {
	ch := g.channels[id]
	lo := g.worldToCell(min)
	hi := g.worldToCell(max)

	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				key := CellKey{x, y, z}
				force := g.cellForce(ch, key)
				if force == (mgl64.Vec3{}) {
					continue
				}
				w := g.coveredFraction(key, min, max)
				if w <= 0 {
					continue
				}
				f := force.Mul(w)
				netForce = netForce.Add(f)
				netTorque = netTorque.Add(g.cellCenter(key).Sub(pivot).Cross(f))
			}
		}
	}
	return netForce, netTorque
}

// coveredFraction returns the fraction of a cell's volume inside the
// [min, max] box.
func (g *Grid) coveredFraction(key CellKey, min, max mgl64.Vec3) float64 {
	cellMin := mgl64.Vec3{
		float64(key.X) * g.CellSize,
		float64(key.Y) * g.CellSize,
		float64(key.Z) * g.CellSize,
	}
	fraction := 1.0
	for i := 0; i < 3; i++ {
		lo := math.Max(min[i], cellMin[i])
		hi := math.Min(max[i], cellMin[i]+g.CellSize)
		if hi <= lo {
			return 0
		}
		fraction *= (hi - lo) / g.CellSize
	}
	return fraction
}

// Update decays every channel exponentially, prunes cells below the
// amplitude epsilon and enforces the per-channel cell budget by evicting
// the weakest, oldest entries. Returns the number of cells evicted over
// budget (0 in a healthy step).
func (g *Grid) Update(dt float64) int {
	g.frame++
	evicted := 0

	for _, ch := range g.channels {
		factor := math.Exp(-ch.decayRate * dt)
		total := 0

		for _, sh := range ch.shards {
			sh.mu.Lock()
			for key, cell := range sh.cells {
				cell.Force = cell.Force.Mul(factor)
				cell.Magnitude *= factor
				if cell.Magnitude < pruneEpsilon {
					delete(sh.cells, key)
				}
			}
			total += len(sh.cells)
			sh.mu.Unlock()
		}

		if total > g.MaxCellsPerChannel {
			n := g.evictOverBudget(ch, total-g.MaxCellsPerChannel)
			evicted += n
			g.Log.WithFields(logrus.Fields{
				"channel": ch.name,
				"cells":   humanize.Comma(int64(total)),
				"evicted": humanize.Comma(int64(n)),
			}).Warn("force field cell budget exceeded, dropping weakest cells")
		}
	}
	return evicted
}

type eviction struct {
	shard *shard
	key   CellKey
	score float64
}

// evictOverBudget removes the n lowest-priority cells of a channel.
// Priority is magnitude first, then recency.
func (g *Grid) evictOverBudget(ch *channel, n int) int {
	var candidates []eviction
	for _, sh := range ch.shards {
		sh.mu.Lock()
		for key, cell := range sh.cells {
			candidates = append(candidates, eviction{
				shard: sh,
				key:   key,
				score: cell.Magnitude + float64(cell.LastWrite-g.frame),
			})
		}
		sh.mu.Unlock()
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score < candidates[j].score
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	for _, c := range candidates[:n] {
		c.shard.mu.Lock()
		delete(c.shard.cells, c.key)
		c.shard.mu.Unlock()
	}
	return n
}

// CellCount returns the live cell count of a channel.
func (g *Grid) CellCount(id ChannelID) int {
	total := 0
	for _, sh := range g.channels[id].shards {
		sh.mu.Lock()
		total += len(sh.cells)
		sh.mu.Unlock()
	}
	return total
}

// Magnitude returns the accumulated magnitude of the cell containing a
// position, zero when absent.
func (g *Grid) Magnitude(id ChannelID, position mgl64.Vec3) float64 {
	key := g.worldToCell(position)
	sh := g.channels[id].shards[hashKey(key)&(shardCount-1)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cell, ok := sh.cells[key]; ok {
		return cell.Magnitude
	}
	return 0
}
