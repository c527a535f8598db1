package constraint

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/crumble/voxel"
)

func restCube() [8]mgl64.Vec3 {
	return voxel.RestCorners(mgl64.Vec3{}, mgl64.QuatIdent(), 1.0)
}

func cornerVolume(corners [8]mgl64.Vec3) float64 {
	ex, ey, ez := voxel.EdgeVectors(corners)
	return voxel.Volume(ex, ey, ez)
}

func TestSolveVolume_ExactAtFullStiffness(t *testing.T) {
	corners := restCube()
	// Uniform inflation by 20% per axis
	for i := range corners {
		corners[i] = corners[i].Mul(1.2)
	}

	if err := SolveVolume(&corners, 1.0, 1.0); err != nil {
		t.Fatalf("SolveVolume() error: %v", err)
	}
	if v := cornerVolume(corners); math.Abs(v-1.0) > 1e-9 {
		t.Errorf("volume after full-stiffness solve = %v, want 1", v)
	}
}

func TestSolveVolume_PreservesCentroid(t *testing.T) {
	corners := restCube()
	shift := mgl64.Vec3{3, -2, 7}
	for i := range corners {
		corners[i] = corners[i].Add(shift)
	}
	corners[0] = corners[0].Add(mgl64.Vec3{0.3, 0.1, -0.2})

	var before mgl64.Vec3
	for _, c := range corners {
		before = before.Add(c)
	}
	before = before.Mul(1.0 / 8.0)

	if err := SolveVolume(&corners, 1.0, 0.5); err != nil {
		t.Fatalf("SolveVolume() error: %v", err)
	}

	var after mgl64.Vec3
	for _, c := range corners {
		after = after.Add(c)
	}
	after = after.Mul(1.0 / 8.0)

	if after.Sub(before).Len() > 1e-9 {
		t.Errorf("centroid moved %v -> %v", before, after)
	}
}

// Random perturbations must converge back to the rest volume under
// repeated half-stiffness iterations, and the drift stays bounded over
// many independent trials.
func TestSolveVolume_RandomPerturbationBound(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 100; trial++ {
		corners := restCube()
		for i := range corners {
			corners[i] = corners[i].Add(mgl64.Vec3{
				(rng.Float64() - 0.5) * 0.4,
				(rng.Float64() - 0.5) * 0.4,
				(rng.Float64() - 0.5) * 0.4,
			})
		}

		for iter := 0; iter < 20; iter++ {
			if err := SolveVolume(&corners, 1.0, 0.5); err != nil {
				t.Fatalf("trial %d iter %d: %v", trial, iter, err)
			}
		}

		if v := cornerVolume(corners); math.Abs(v-1.0) > 0.05 {
			t.Errorf("trial %d: volume = %v, want within 5%% of 1", trial, v)
		}
	}
}

func TestSolveVolume_Degenerate(t *testing.T) {
	var corners [8]mgl64.Vec3
	for i := range corners {
		corners[i] = mgl64.Vec3{1, 1, 1}
	}
	if err := SolveVolume(&corners, 1.0, 0.5); !errors.Is(err, voxel.ErrDegenerateBasis) {
		t.Fatalf("SolveVolume() error = %v, want ErrDegenerateBasis", err)
	}
}

func TestCombineThreshold_GeometricMean(t *testing.T) {
	a := voxel.Material{StrainThreshold: 0.1}
	b := voxel.Material{StrainThreshold: 0.9}
	if got := CombineThreshold(a, b); math.Abs(got-0.3) > 1e-12 {
		t.Errorf("CombineThreshold() = %v, want 0.3", got)
	}
}

func TestFinite(t *testing.T) {
	if !Finite(mgl64.Vec3{1, 2, 3}) {
		t.Error("finite vector reported non-finite")
	}
	if Finite(mgl64.Vec3{math.NaN(), 0, 0}) {
		t.Error("NaN vector reported finite")
	}
	if Finite(mgl64.Vec3{0, math.Inf(1), 0}) {
		t.Error("Inf vector reported finite")
	}
}
