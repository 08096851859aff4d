package mesh

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tsawler/go-sdf/field"
)

func sphereField(radius float64) field.Querier {
	return field.Pointwise(func(p [3]float32) float32 {
		x, y, z := float64(p[0]), float64(p[1]), float64(p[2])
		return float32(math.Sqrt(x*x+y*y+z*z) - radius)
	})
}

func TestTriTableBasics(t *testing.T) {
	if len(triTable[0]) != 0 || len(triTable[255]) != 0 {
		t.Error("uniform cells must not produce triangles")
	}
	if len(triTable[1]) != 1 || len(triTable[254]) != 1 {
		t.Errorf("single corner cases: got %d and %d triangles", len(triTable[1]), len(triTable[254]))
	}
	// two diagonal corners on one face are cut off separately
	if n := len(triTable[1|8]); n != 2 {
		t.Errorf("expected 2 triangles for corners 0 and 3, got %d", n)
	}

	for mask := 0; mask < 256; mask++ {
		for _, tri := range triTable[mask] {
			for _, e := range tri {
				ce := cubeEdges[e]
				a := ce.corner
				b := a | 1<<ce.axis
				if (mask>>a&1 == 1) == (mask>>b&1 == 1) {
					t.Fatalf("mask %d uses edge %d that has no crossing", mask, e)
				}
			}
		}
	}
}

// TestRandomFieldsClosed runs marching cubes on random fields whose boundary
// is outside, covering every ambiguous face configuration.
func TestRandomFieldsClosed(t *testing.T) {
	const r = 9
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		g := field.NewGrid(field.CubeBounds(1), r)
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				for k := 0; k < r; k++ {
					v := rng.Float32()*2 - 1
					if i == 0 || j == 0 || k == 0 || i == r-1 || j == r-1 || k == r-1 {
						v = 1
					}
					g.Set(i, j, k, v)
				}
			}
		}

		m := marchingCubes(g, box{hi: [3]int{r, r, r}}, 0)
		if m.NumTriangles() == 0 {
			t.Fatalf("seed %d: expected triangles", seed)
		}
		if !m.IsClosed() {
			t.Errorf("seed %d: mesh is not closed", seed)
		}
		if m.Volume() <= 0 {
			t.Errorf("seed %d: expected positive enclosed volume, got %f", seed, m.Volume())
		}
	}
}

func TestSphereMesh(t *testing.T) {
	const radius = 0.5
	m, err := Extractor{}.Extract(context.Background(), field.CubeBounds(1), 64, 0, sphereField(radius))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if !m.IsClosed() {
		t.Error("sphere mesh should be closed")
	}
	for i, v := range m.Vertices {
		d := math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]))
		if math.Abs(d-radius) > 0.01 {
			t.Fatalf("vertex %d at distance %f from centre, expected %f", i, d, radius)
		}
	}

	want := 4.0 / 3.0 * math.Pi * radius * radius * radius
	if got := m.Volume(); math.Abs(got-want)/want > 0.02 {
		t.Errorf("volume %f, expected about %f", got, want)
	}
	wantArea := 4 * math.Pi * radius * radius
	if got := m.SurfaceArea(); math.Abs(got-wantArea)/wantArea > 0.05 {
		t.Errorf("surface area %f, expected about %f", got, wantArea)
	}
}

func TestNoVertexWithinMargin(t *testing.T) {
	const r = 40
	bounds := field.CubeBounds(1)
	m, err := Extractor{Sampler: field.Sampler{ChunkSize: 16, Parallelism: 4}}.
		Extract(context.Background(), bounds, r, 0, sphereField(0.97))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	lo, hi := Margin(r)
	minCoord := float32(lo)/float32(r-1)*2 - 1
	maxCoord := float32(hi-1)/float32(r-1)*2 - 1
	const eps = 1e-5
	for i, v := range m.Vertices {
		for a := 0; a < 3; a++ {
			if v[a] < minCoord-eps || v[a] > maxCoord+eps {
				t.Fatalf("vertex %d coordinate %f outside [%f, %f]", i, v[a], minCoord, maxCoord)
			}
		}
	}
}

func TestConstantFieldRejected(t *testing.T) {
	constant := field.Pointwise(func(p [3]float32) float32 { return 1 })
	m, err := Extractor{}.Extract(context.Background(), field.CubeBounds(1), 32, 0, constant)
	if m != nil {
		t.Error("expected no mesh")
	}
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Triangles != 0 {
		t.Errorf("expected RejectedError with zero triangles, got %v", err)
	}
}

func TestTooManyTrianglesRejected(t *testing.T) {
	_, err := Extractor{MaxTriangles: 10}.Extract(context.Background(), field.CubeBounds(1), 32, 0, sphereField(0.5))
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Triangles <= 10 || rejected.Limit != 10 {
		t.Errorf("unexpected rejection %+v", rejected)
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestExtractPropagatesQueryErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := field.QuerierFunc(func(ctx context.Context, points [][3]float32) ([]float32, error) {
		return nil, boom
	})
	_, err := Extractor{}.Extract(context.Background(), field.CubeBounds(1), 16, 0, failing)
	if !errors.Is(err, boom) || errors.Is(err, ErrRejected) {
		t.Errorf("expected query error, got %v", err)
	}
}

func TestMeshWriters(t *testing.T) {
	m, err := Extractor{}.Extract(context.Background(), field.CubeBounds(1), 24, 0, sphereField(0.6))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	var off bytes.Buffer
	if err := m.WriteOFF(&off); err != nil {
		t.Fatalf("WriteOFF failed: %v", err)
	}
	back, err := ReadOFF(&off)
	if err != nil {
		t.Fatalf("ReadOFF failed: %v", err)
	}
	if back.NumVertices() != m.NumVertices() || back.NumTriangles() != m.NumTriangles() {
		t.Fatalf("OFF round trip changed counts: %d/%d vs %d/%d",
			back.NumVertices(), back.NumTriangles(), m.NumVertices(), m.NumTriangles())
	}
	if back.Vertices[3] != m.Vertices[3] || back.Triangles[5] != m.Triangles[5] {
		t.Error("OFF round trip changed data")
	}

	var ply bytes.Buffer
	if err := m.WritePLY(&ply); err != nil {
		t.Fatalf("WritePLY failed: %v", err)
	}
	header := "end_header\n"
	idx := bytes.Index(ply.Bytes(), []byte(header))
	if idx < 0 {
		t.Fatal("PLY header not terminated")
	}
	body := ply.Len() - idx - len(header)
	if want := m.NumVertices()*12 + m.NumTriangles()*13; body != want {
		t.Errorf("PLY body is %d bytes, expected %d", body, want)
	}

	var obj bytes.Buffer
	if err := m.WriteOBJ(&obj); err != nil {
		t.Fatalf("WriteOBJ failed: %v", err)
	}
	if lines := strings.Count(obj.String(), "\n"); lines != m.NumVertices()+m.NumTriangles() {
		t.Errorf("OBJ has %d lines, expected %d", lines, m.NumVertices()+m.NumTriangles())
	}

	dir := t.TempDir()
	for _, name := range []string{"a.ply", "b.obj", "c.off"} {
		path := filepath.Join(dir, "validation", name)
		if err := m.Save(path); err != nil {
			t.Errorf("Save(%s) failed: %v", name, err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Save(%s) did not create file: %v", name, err)
		}
	}
	if err := m.Save(filepath.Join(dir, "d.stl")); err == nil {
		t.Error("expected error for unsupported format")
	}
}
