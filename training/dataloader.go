package training

import (
	"fmt"
	"math/rand"
	"sync"
)

// Batch is a set of query points with their ground-truth signed distances
type Batch struct {
	Points [][3]float32
	SDF    []float32
}

// Len returns the number of points in the batch
func (b *Batch) Len() int { return len(b.Points) }

// Dataset interface defines methods that all datasets must implement. Each
// sample is itself a set of points.
type Dataset interface {
	Len() int
	Get(idx int) (*Batch, error)
}

// Loader yields the batches of one epoch. Reset starts a new pass.
type Loader interface {
	Reset()
	HasNext() bool
	Next() (*Batch, error)
	Len() int
}

// EpochSetter is implemented by loaders whose order depends on the epoch
type EpochSetter interface {
	SetEpoch(epoch int)
}

// DataLoader provides batching, shuffling and sharding across workers
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	seed      int64
	epoch     int
	rank      int
	world     int
	indices   []int
	position  int
	mutex     sync.Mutex
}

// LoaderOption configures a DataLoader
type LoaderOption func(*DataLoader)

// WithShard restricts the loader to the rank-th of world interleaved shards.
// Every shard has the same length; the index list is padded by wrapping.
func WithShard(rank, world int) LoaderOption {
	return func(dl *DataLoader) {
		dl.rank = rank
		dl.world = world
	}
}

// WithSeed sets the base seed of the per-epoch shuffle
func WithSeed(seed int64) LoaderOption {
	return func(dl *DataLoader) {
		dl.seed = seed
	}
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, opts ...LoaderOption) (*DataLoader, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		world:     1,
	}
	for _, opt := range opts {
		opt(dl)
	}
	if dl.world < 1 || dl.rank < 0 || dl.rank >= dl.world {
		return nil, fmt.Errorf("invalid shard %d of %d", dl.rank, dl.world)
	}
	dl.indices = dl.epochIndices()
	return dl, nil
}

// SetEpoch reseeds the shuffle so every worker sees the same permutation
func (dl *DataLoader) SetEpoch(epoch int) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	dl.epoch = epoch
}

// BatchSize returns the number of samples combined per batch
func (dl *DataLoader) BatchSize() int { return dl.batchSize }

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0
	dl.indices = dl.epochIndices()
}

func (dl *DataLoader) epochIndices() []int {
	n := dl.dataset.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if dl.shuffle {
		rng := rand.New(rand.NewSource(dl.seed + int64(dl.epoch)))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	if dl.world == 1 {
		return order
	}

	perShard := (n + dl.world - 1) / dl.world
	total := perShard * dl.world
	for i := n; i < total; i++ {
		order = append(order, order[i%n])
	}
	shard := make([]int, 0, perShard)
	for i := dl.rank; i < total; i += dl.world {
		shard = append(shard, order[i])
	}
	return shard
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch concatenates the samples at indices into one batch
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	out := &Batch{}
	for _, idx := range indices {
		sample, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		if len(sample.Points) != len(sample.SDF) {
			return nil, fmt.Errorf("sample %d has %d points but %d distances", idx, len(sample.Points), len(sample.SDF))
		}
		out.Points = append(out.Points, sample.Points...)
		out.SDF = append(out.SDF, sample.SDF...)
	}
	return out, nil
}

// SliceDataset serves a fixed list of samples
type SliceDataset []*Batch

func (ds SliceDataset) Len() int { return len(ds) }

func (ds SliceDataset) Get(idx int) (*Batch, error) {
	if idx < 0 || idx >= len(ds) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds))
	}
	return ds[idx], nil
}
