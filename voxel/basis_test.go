package voxel

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestEdgeVectors_RestCube(t *testing.T) {
	corners := RestCorners(mgl64.Vec3{1, 2, 3}, mgl64.QuatIdent(), 2.0)
	ex, ey, ez := EdgeVectors(corners)

	expectVec(t, "ex", ex, mgl64.Vec3{2, 0, 0})
	expectVec(t, "ey", ey, mgl64.Vec3{0, 2, 0})
	expectVec(t, "ez", ez, mgl64.Vec3{0, 0, 2})
}

func TestOrthonormalize(t *testing.T) {
	tests := []struct {
		name       string
		ex, ey, ez mgl64.Vec3
		wantErr    bool
	}{
		{
			name: "identity basis",
			ex:   mgl64.Vec3{1, 0, 0},
			ey:   mgl64.Vec3{0, 1, 0},
			ez:   mgl64.Vec3{0, 0, 1},
		},
		{
			name: "sheared basis",
			ex:   mgl64.Vec3{1, 0.3, 0},
			ey:   mgl64.Vec3{0.2, 1, 0.1},
			ez:   mgl64.Vec3{0, 0.4, 1.2},
		},
		{
			name:    "zero first edge",
			ex:      mgl64.Vec3{},
			ey:      mgl64.Vec3{0, 1, 0},
			ez:      mgl64.Vec3{0, 0, 1},
			wantErr: true,
		},
		{
			name:    "collinear edges",
			ex:      mgl64.Vec3{1, 0, 0},
			ey:      mgl64.Vec3{2, 0, 0},
			ez:      mgl64.Vec3{0, 0, 1},
			wantErr: true,
		},
		{
			name:    "coplanar third edge",
			ex:      mgl64.Vec3{1, 0, 0},
			ey:      mgl64.Vec3{0, 1, 0},
			ez:      mgl64.Vec3{0.5, 0.5, 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			basis, err := Orthonormalize(tt.ex, tt.ey, tt.ez)
			if tt.wantErr {
				if !errors.Is(err, ErrDegenerateBasis) {
					t.Fatalf("Orthonormalize() error = %v, want ErrDegenerateBasis", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Orthonormalize() unexpected error: %v", err)
			}

			cols := [3]mgl64.Vec3{basis.Col(0), basis.Col(1), basis.Col(2)}
			for i, c := range cols {
				if math.Abs(c.Len()-1) > 1e-10 {
					t.Errorf("column %d length = %v, want 1", i, c.Len())
				}
			}
			for i := 0; i < 3; i++ {
				for j := i + 1; j < 3; j++ {
					if d := math.Abs(cols[i].Dot(cols[j])); d > 1e-10 {
						t.Errorf("columns %d,%d dot = %v, want 0", i, j, d)
					}
				}
			}
		})
	}
}

func TestOrthonormalize_FirstEdgePreserved(t *testing.T) {
	ex := mgl64.Vec3{2, 1, 0}
	basis, err := Orthonormalize(ex, mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, 0, 1})
	if err != nil {
		t.Fatalf("Orthonormalize() error: %v", err)
	}
	// Classical Gram-Schmidt keeps the first direction untouched
	expectVec(t, "col 0", basis.Col(0), ex.Normalize())
}

func TestBasisToQuat_RoundTrip(t *testing.T) {
	rotation := mgl64.QuatRotate(0.7, mgl64.Vec3{1, 2, 3}.Normalize())
	corners := RestCorners(mgl64.Vec3{}, rotation, 1.0)

	ex, ey, ez := EdgeVectors(corners)
	basis, err := Orthonormalize(ex, ey, ez)
	if err != nil {
		t.Fatalf("Orthonormalize() error: %v", err)
	}
	q := BasisToQuat(basis)

	// Quaternions double-cover rotations; compare action, not components
	for _, axis := range []mgl64.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
		expectVec(t, "rotated axis", q.Rotate(axis), rotation.Rotate(axis))
	}
}

func TestVolume(t *testing.T) {
	if v := Volume(mgl64.Vec3{2, 0, 0}, mgl64.Vec3{0, 3, 0}, mgl64.Vec3{0, 0, 4}); math.Abs(v-24) > 1e-12 {
		t.Errorf("Volume() = %v, want 24", v)
	}
	// Left-handed triple is negative
	if v := Volume(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0, 1}); v >= 0 {
		t.Errorf("Volume() = %v, want negative", v)
	}
}

func expectVec(t *testing.T, name string, got, want mgl64.Vec3) {
	t.Helper()
	if got.Sub(want).Len() > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}
