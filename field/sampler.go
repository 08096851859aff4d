package field

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the per-axis extent of one query block
const DefaultChunkSize = 64

// Sampler evaluates a Querier on a regular grid in cubic chunks. Each chunk
// triple is sent as exactly one Query call, so a resolution R produces
// ceil(R/ChunkSize)^3 calls.
type Sampler struct {
	// ChunkSize is the per-axis chunk extent; zero means DefaultChunkSize
	ChunkSize int
	// Parallelism bounds the number of chunks queried concurrently; values
	// below 2 query sequentially. The querier must be safe for concurrent
	// use when this is set.
	Parallelism int
}

type chunk struct {
	x0, x1, y0, y1, z0, z1 int
}

func (s Sampler) chunkSize() int {
	if s.ChunkSize > 0 {
		return s.ChunkSize
	}
	return DefaultChunkSize
}

// Chunks returns the number of Query calls Sample makes at resolution
func (s Sampler) Chunks(resolution int) int {
	n := (resolution + s.chunkSize() - 1) / s.chunkSize()
	return n * n * n
}

// Sample fills a resolution^3 grid over bounds with values from q
func (s Sampler) Sample(ctx context.Context, bounds Bounds, resolution int, q Querier) (*Grid, error) {
	if resolution < 2 {
		return nil, fmt.Errorf("resolution must be at least 2, got %d", resolution)
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("querier cannot be nil")
	}

	grid := NewGrid(bounds, resolution)
	var axes [3][]float32
	for a := 0; a < 3; a++ {
		axes[a] = make([]float32, resolution)
		for i := range axes[a] {
			axes[a][i] = Linspace(bounds.Min[a], bounds.Max[a], resolution, i)
		}
	}

	size := s.chunkSize()
	var chunks []chunk
	for x0 := 0; x0 < resolution; x0 += size {
		for y0 := 0; y0 < resolution; y0 += size {
			for z0 := 0; z0 < resolution; z0 += size {
				chunks = append(chunks, chunk{
					x0: x0, x1: min(x0+size, resolution),
					y0: y0, y1: min(y0+size, resolution),
					z0: z0, z1: min(z0+size, resolution),
				})
			}
		}
	}

	if s.Parallelism < 2 {
		for _, c := range chunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := sampleChunk(ctx, grid, &axes, c, q); err != nil {
				return nil, err
			}
		}
		return grid, nil
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.Parallelism)
	for _, c := range chunks {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			return sampleChunk(egctx, grid, &axes, c, q)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return grid, nil
}

// sampleChunk queries one block and writes it into its sub-block of grid.
// Blocks are disjoint, so concurrent calls never write the same element.
func sampleChunk(ctx context.Context, grid *Grid, axes *[3][]float32, c chunk, q Querier) error {
	nx, ny, nz := c.x1-c.x0, c.y1-c.y0, c.z1-c.z0
	points := make([][3]float32, 0, nx*ny*nz)
	for i := c.x0; i < c.x1; i++ {
		for j := c.y0; j < c.y1; j++ {
			for k := c.z0; k < c.z1; k++ {
				points = append(points, [3]float32{axes[0][i], axes[1][j], axes[2][k]})
			}
		}
	}

	values, err := q.Query(ctx, points)
	if err != nil {
		return fmt.Errorf("query chunk at (%d, %d, %d): %w", c.x0, c.y0, c.z0, err)
	}
	if len(values) != len(points) {
		return fmt.Errorf("%w: chunk at (%d, %d, %d) sent %d points, got %d values",
			ErrQueryLength, c.x0, c.y0, c.z0, len(points), len(values))
	}

	n := 0
	for i := c.x0; i < c.x1; i++ {
		for j := c.y0; j < c.y1; j++ {
			row := grid.Index(i, j, c.z0)
			copy(grid.Values[row:row+nz], values[n:n+nz])
			n += nz
		}
	}
	return nil
}
