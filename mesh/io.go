package mesh

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePLY writes the mesh as binary little-endian PLY
func (m *Mesh) WritePLY(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\n")
	fmt.Fprintf(bw, "element vertex %d\n", len(m.Vertices))
	fmt.Fprintf(bw, "property float x\nproperty float y\nproperty float z\n")
	fmt.Fprintf(bw, "element face %d\n", len(m.Triangles))
	fmt.Fprintf(bw, "property list uchar int vertex_indices\nend_header\n")

	for _, v := range m.Vertices {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("failed to write vertex: %w", err)
		}
	}
	for _, t := range m.Triangles {
		if err := bw.WriteByte(3); err != nil {
			return fmt.Errorf("failed to write face: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, t); err != nil {
			return fmt.Errorf("failed to write face: %w", err)
		}
	}
	return bw.Flush()
}

// WriteOBJ writes the mesh as Wavefront OBJ
func (m *Mesh) WriteOBJ(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "v %s %s %s\n", formatFloat(v[0]), formatFloat(v[1]), formatFloat(v[2]))
	}
	for _, t := range m.Triangles {
		fmt.Fprintf(bw, "f %d %d %d\n", t[0]+1, t[1]+1, t[2]+1)
	}
	return bw.Flush()
}

// WriteOFF writes the mesh as Object File Format
func (m *Mesh) WriteOFF(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "OFF\n%d %d 0\n", len(m.Vertices), len(m.Triangles))
	for _, v := range m.Vertices {
		fmt.Fprintf(bw, "%s %s %s\n", formatFloat(v[0]), formatFloat(v[1]), formatFloat(v[2]))
	}
	for _, t := range m.Triangles {
		fmt.Fprintf(bw, "3 %d %d %d\n", t[0], t[1], t[2])
	}
	return bw.Flush()
}

// Save writes the mesh to path, choosing the format from the extension
func (m *Mesh) Save(path string) error {
	var write func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ply":
		write = m.WritePLY
	case ".obj":
		write = m.WriteOBJ
	case ".off":
		write = m.WriteOFF
	default:
		return fmt.Errorf("unsupported mesh format: %q", filepath.Ext(path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create mesh directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mesh file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadOFF parses a triangle mesh in Object File Format
func ReadOFF(r io.Reader) (*Mesh, error) {
	sc := bufio.NewScanner(r)
	var fields []string
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields = append(fields, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(fields) < 4 || fields[0] != "OFF" {
		return nil, fmt.Errorf("missing OFF header")
	}

	pos := 1
	nextInt := func() (int, error) {
		if pos >= len(fields) {
			return 0, io.ErrUnexpectedEOF
		}
		v, err := strconv.Atoi(fields[pos])
		pos++
		return v, err
	}
	nextFloat := func() (float32, error) {
		if pos >= len(fields) {
			return 0, io.ErrUnexpectedEOF
		}
		v, err := strconv.ParseFloat(fields[pos], 32)
		pos++
		return float32(v), err
	}

	nv, err := nextInt()
	if err != nil {
		return nil, fmt.Errorf("vertex count: %w", err)
	}
	nf, err := nextInt()
	if err != nil {
		return nil, fmt.Errorf("face count: %w", err)
	}
	if _, err := nextInt(); err != nil {
		return nil, fmt.Errorf("edge count: %w", err)
	}

	m := &Mesh{Vertices: make([][3]float32, nv), Triangles: make([][3]int32, nf)}
	for i := 0; i < nv; i++ {
		for a := 0; a < 3; a++ {
			if m.Vertices[i][a], err = nextFloat(); err != nil {
				return nil, fmt.Errorf("vertex %d: %w", i, err)
			}
		}
	}
	for i := 0; i < nf; i++ {
		n, err := nextInt()
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		if n != 3 {
			return nil, fmt.Errorf("face %d has %d vertices, only triangles are supported", i, n)
		}
		for a := 0; a < 3; a++ {
			idx, err := nextInt()
			if err != nil {
				return nil, fmt.Errorf("face %d: %w", i, err)
			}
			if idx < 0 || idx >= nv {
				return nil, fmt.Errorf("face %d references vertex %d of %d", i, idx, nv)
			}
			m.Triangles[i][a] = int32(idx)
		}
	}
	return m, nil
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}
