package crumble

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/akmonengine/crumble/constraint"
	"github.com/akmonengine/crumble/lod"
	"github.com/akmonengine/crumble/rigid"
)

// Config gathers every tunable of the solver. The relaxation factor and
// iteration count have no single correct value; ship defaults, tune per
// scene with a TOML file.
type Config struct {
	World      WorldConfig      `toml:"world"`
	Solver     SolverConfig     `toml:"solver"`
	LOD        LODConfig        `toml:"lod"`
	Field      FieldConfig      `toml:"field"`
	Transition TransitionConfig `toml:"transition"`
}

type WorldConfig struct {
	// VoxelWidth in world units
	VoxelWidth float64 `toml:"voxel_width"`
	// Gravity acceleration along -Y (m/s²)
	Gravity float64 `toml:"gravity"`
	Workers int     `toml:"workers"`
}

type SolverConfig struct {
	// Iterations per step, typically 3-8
	Iterations int `toml:"iterations"`
	// Alpha - global stiffness multiplier in [0,1]
	Alpha float64 `toml:"alpha"`
}

type LODConfig struct {
	// Distances - level boundaries in world units, fine to coarse
	Distances [lod.LevelCount - 1]float64 `toml:"distances"`
	// HysteresisBand - fractional dead band around each boundary
	HysteresisBand float64 `toml:"hysteresis_band"`
	// OutOfFrustumPenalty - distance multiplier outside the view cone
	OutOfFrustumPenalty float64 `toml:"out_of_frustum_penalty"`
}

type FieldConfig struct {
	CellSize float64 `toml:"cell_size"`
	// MaxCellsPerChannel - resource budget before weakest-cell eviction
	MaxCellsPerChannel int `toml:"max_cells_per_channel"`
}

type TransitionConfig struct {
	FreezeEnergy float64 `toml:"freeze_energy"`
	FreezeStrain float64 `toml:"freeze_strain"`
	FreezeFrames int     `toml:"freeze_frames"`
	ThawForce    float64 `toml:"thaw_force"`
	ThawSpeed    float64 `toml:"thaw_speed"`
}

// DefaultConfig returns the values used by the examples, tuned for
// unit-width voxels.
func DefaultConfig() Config {
	lodDefaults := lod.DefaultConfig()
	transition := rigid.DefaultConfig()
	params := constraint.DefaultParams()

	return Config{
		World: WorldConfig{
			VoxelWidth: 1.0,
			Gravity:    9.81,
			Workers:    DEFAULT_WORKERS,
		},
		Solver: SolverConfig{
			Iterations: params.Iterations,
			Alpha:      params.Alpha,
		},
		LOD: LODConfig{
			Distances:           lodDefaults.Distances,
			HysteresisBand:      lodDefaults.HysteresisBand,
			OutOfFrustumPenalty: lodDefaults.OutOfFrustumPenalty,
		},
		Field: FieldConfig{
			CellSize:           1.0,
			MaxCellsPerChannel: 1 << 16,
		},
		Transition: TransitionConfig{
			FreezeEnergy: transition.FreezeEnergy,
			FreezeStrain: transition.FreezeStrain,
			FreezeFrames: transition.FreezeFrames,
			ThawForce:    transition.ThawForce,
			ThawSpeed:    transition.ThawSpeed,
		},
	}
}

// LoadConfig reads a TOML config file over the defaults, so partial
// files only override what they mention.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, fmt.Errorf("crumble: loading config %q: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate rejects configurations the solver cannot run with.
func (c Config) Validate() error {
	if c.World.VoxelWidth <= 0 {
		return fmt.Errorf("crumble: voxel_width must be positive, got %v", c.World.VoxelWidth)
	}
	if c.Solver.Iterations < 1 {
		return fmt.Errorf("crumble: solver iterations must be at least 1, got %d", c.Solver.Iterations)
	}
	if c.Solver.Alpha < 0 || c.Solver.Alpha > 1 {
		return fmt.Errorf("crumble: solver alpha must be in [0,1], got %v", c.Solver.Alpha)
	}
	for i := 1; i < len(c.LOD.Distances); i++ {
		if c.LOD.Distances[i] <= c.LOD.Distances[i-1] {
			return fmt.Errorf("crumble: lod distances must be strictly increasing")
		}
	}
	return nil
}
