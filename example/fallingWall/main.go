package main

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble"
	"github.com/akmonengine/crumble/field"
	"github.com/akmonengine/crumble/voxel"
)

const (
	stone = 1
	dirt  = 2
)

// BuildWall places a stone wall on a dirt footing through the production
// queue, the way a terrain generator would feed the solver.
func BuildWall(world *crumble.World) {
	for x := 0; x < 8; x++ {
		for z := 0; z < 2; z++ {
			world.Production.Fulfill(voxel.Cell{X: x, Y: 0, Z: z},
				voxel.Sample{MaterialID: dirt, Density: 255})
		}
	}
	for x := 1; x < 7; x++ {
		for y := 1; y < 5; y++ {
			world.Production.Fulfill(voxel.Cell{X: x, Y: y, Z: 0},
				voxel.Sample{MaterialID: stone, Density: 255})
		}
	}
}

func main() {
	fmt.Println("=== Falling wall scene ===")

	config := crumble.DefaultConfig()
	config.World.Workers = 4
	config.World.Gravity = 0 // the wall stands free, no ground plane yet

	world := crumble.NewWorld(config, voxel.DefaultTable())
	world.Camera.Position = mgl64.Vec3{4, 2, 12}

	world.Events.Subscribe(crumble.FRACTURE, func(event crumble.Event) {
		e := event.(crumble.FractureEvent)
		fmt.Printf("  💥 fracture: voxel %d face %d at %v\n", e.Voxel, e.Face, e.Position)
	})
	world.Events.Subscribe(crumble.MIGRATION, func(event crumble.Event) {
		e := event.(crumble.MigrationEvent)
		fmt.Printf("  🚚 migration: voxel %d %v -> %v\n", e.Voxel, e.OldCell, e.NewCell)
	})
	world.Events.Subscribe(crumble.ON_FREEZE, func(event crumble.Event) {
		e := event.(crumble.FreezeEvent)
		fmt.Printf("  🧊 freeze: %d voxels, mass %.1f\n", len(e.Group.Members()), e.Group.Mass)
	})
	world.Events.Subscribe(crumble.ON_THAW, func(event crumble.Event) {
		e := event.(crumble.ThawEvent)
		fmt.Printf("  🔥 thaw: %d voxels at %v\n", len(e.Group.Members()), e.Group.Transform.Position)
	})

	BuildWall(world)

	const dt = 1.0 / 60.0
	const steps = 180

	for step := 0; step < steps; step++ {
		if step == 60 {
			// Explosion against the middle of the wall
			center := mgl64.Vec3{4, 2.5, 0.5}
			fmt.Printf("--- step %d: explosion at %v ---\n", step, center)
			for x := 1; x < 7; x++ {
				for y := 1; y < 5; y++ {
					p := mgl64.Vec3{float64(x) + 0.5, float64(y) + 0.5, 0.5}
					dir := p.Sub(center)
					if dir.Len() == 0 {
						dir = mgl64.Vec3{0, 1, 0}
					}
					world.AddForce(field.ChannelKinetic, p, dir.Normalize().Mul(400), 0)
				}
			}
		}

		stats := world.Step(dt)

		if step%30 == 0 || stats.Fractures > 0 {
			fmt.Printf("step %3d: fine=%d coarse=%d frozen=%d fractures=%d migrations=%d collisions=%d\n",
				step, stats.FineVoxels, stats.CoarseNodes, stats.FrozenGroups,
				stats.Fractures, stats.Migrations, stats.Collisions)
		}
	}

	fmt.Printf("\nfinal: %d voxels, %d field cells (kinetic)\n",
		world.Store.Len(), world.Field.CellCount(field.ChannelKinetic))
	fmt.Println("Scene complete!")
}
