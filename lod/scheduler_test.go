package lod

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

func TestRegionOf(t *testing.T) {
	tests := []struct {
		cell voxel.Cell
		want RegionKey
	}{
		{voxel.Cell{X: 0, Y: 0, Z: 0}, RegionKey{0, 0, 0}},
		{voxel.Cell{X: 7, Y: 7, Z: 7}, RegionKey{0, 0, 0}},
		{voxel.Cell{X: 8, Y: 0, Z: 0}, RegionKey{1, 0, 0}},
		{voxel.Cell{X: -1, Y: 0, Z: 0}, RegionKey{-1, 0, 0}},
		{voxel.Cell{X: -8, Y: -9, Z: 16}, RegionKey{-1, -2, 2}},
	}
	for _, tt := range tests {
		if got := RegionOf(tt.cell); got != tt.want {
			t.Errorf("RegionOf(%v) = %v, want %v", tt.cell, got, tt.want)
		}
	}
}

func TestSelectLevel_OneLevelPerCall(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	region := RegionKey{1, 0, 0}

	// A region teleported far away still coarsens one level per call
	want := []Level{Level8, Level64, Level512, Level4096, LevelFrozen, LevelFrozen}
	for i, w := range want {
		if got := s.SelectLevel(region, 10000, true); got != w {
			t.Fatalf("call %d: level = %v, want %v", i, got, w)
		}
	}
}

func TestSelectLevel_HysteresisPreventsOscillation(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	region := RegionKey{2, 0, 0}

	// Park the region just past the first boundary
	s.SelectLevel(region, 40, true)
	if s.LevelOf(region) != Level8 {
		t.Fatalf("setup: level = %v, want %v", s.LevelOf(region), Level8)
	}

	// Flutter around the 32-unit boundary inside the dead band
	for i := 0; i < 100; i++ {
		distance := 31.9
		if i%2 == 0 {
			distance = 32.1
		}
		if got := s.SelectLevel(region, distance, true); got != Level8 {
			t.Fatalf("iteration %d: level flipped to %v", i, got)
		}
	}

	// Leaving the dead band refines again
	if got := s.SelectLevel(region, 27, true); got != LevelVoxel {
		t.Errorf("level = %v, want %v after clear undercut", got, LevelVoxel)
	}
}

func TestSelectLevel_CoarsenNeedsDeadBandMargin(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	region := RegionKey{3, 0, 0}

	// 32 * 1.15 = 36.8 is the coarsening threshold for the first boundary
	if got := s.SelectLevel(region, 36, true); got != LevelVoxel {
		t.Errorf("level = %v, want %v inside the dead band", got, LevelVoxel)
	}
	if got := s.SelectLevel(region, 37, true); got != Level8 {
		t.Errorf("level = %v, want %v past the dead band", got, Level8)
	}
}

func TestSelectLevel_FrustumPenalty(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	region := RegionKey{4, 0, 0}

	// 20 units in view stays fine; the same distance out of view is
	// effectively 80 and coarsens.
	if got := s.SelectLevel(region, 20, true); got != LevelVoxel {
		t.Fatalf("level = %v, want %v in frustum", got, LevelVoxel)
	}
	if got := s.SelectLevel(region, 20, false); got != Level8 {
		t.Errorf("level = %v, want %v out of frustum", got, Level8)
	}
}

func TestPhase_DeterministicAndBounded(t *testing.T) {
	region := RegionKey{5, -3, 12}
	if Phase(region, 8) != Phase(region, 8) {
		t.Error("Phase is not deterministic")
	}

	distinct := make(map[int64]bool)
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			p := Phase(RegionKey{X: x, Y: y}, 8)
			if p < 0 || p >= 8 {
				t.Fatalf("Phase out of range: %d", p)
			}
			distinct[p] = true
		}
	}
	// The hash should spread phases, not collapse them
	if len(distinct) < 4 {
		t.Errorf("only %d distinct phases over 100 regions", len(distinct))
	}
}

func TestShouldUpdate_PeriodGating(t *testing.T) {
	s := NewScheduler(DefaultConfig())
	region := RegionKey{6, 0, 0}

	for frame := int64(0); frame < 4; frame++ {
		if !s.ShouldUpdate(region, LevelVoxel, frame) {
			t.Fatalf("frame %d: fine regions update every step", frame)
		}
	}

	updates := 0
	for frame := int64(0); frame < 32; frame++ {
		if s.ShouldUpdate(region, Level512, frame) {
			updates++
		}
	}
	// Period 8 over 32 frames
	if updates != 4 {
		t.Errorf("Level512 updated %d times over 32 frames, want 4", updates)
	}
}

func TestShouldUpdate_StaggerSpreadsRegions(t *testing.T) {
	s := NewScheduler(DefaultConfig())

	// On any single frame, staggering keeps a large region population
	// from all updating together.
	due := 0
	total := 200
	for i := 0; i < total; i++ {
		if s.ShouldUpdate(RegionKey{X: i, Y: i * 7, Z: -i}, Level4096, 0) {
			due++
		}
	}
	if due == 0 || due == total {
		t.Errorf("stagger degenerated: %d/%d regions due on one frame", due, total)
	}
}

func TestEffectiveDistance_BehindCamera(t *testing.T) {
	camera := Camera{
		Position:     mgl64.Vec3{},
		Forward:      mgl64.Vec3{0, 0, -1},
		HalfAngleCos: 0.5,
	}

	distance, inFrustum := EffectiveDistance(camera, mgl64.Vec3{0, 0, -10})
	if !inFrustum || distance != 10 {
		t.Errorf("ahead: distance=%v inFrustum=%v, want 10,true", distance, inFrustum)
	}

	_, inFrustum = EffectiveDistance(camera, mgl64.Vec3{0, 0, 10})
	if inFrustum {
		t.Error("a point behind the camera reported in frustum")
	}

	_, inFrustum = EffectiveDistance(camera, mgl64.Vec3{10, 0, -1})
	if inFrustum {
		t.Error("a point far outside the view cone reported in frustum")
	}
}

func TestRegionCenter(t *testing.T) {
	got := RegionCenter(RegionKey{0, 0, 0}, 1.0)
	if got != (mgl64.Vec3{4, 4, 4}) {
		t.Errorf("RegionCenter = %v, want {4 4 4}", got)
	}
	got = RegionCenter(RegionKey{-1, 0, 0}, 2.0)
	if got != (mgl64.Vec3{-8, 8, 8}) {
		t.Errorf("RegionCenter = %v, want {-8 8 8}", got)
	}
}
