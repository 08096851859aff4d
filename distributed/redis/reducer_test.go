package redis_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-sdf/distributed"
	"github.com/tsawler/go-sdf/distributed/redis"
)

func newWorkers(t *testing.T, mr *miniredis.Miniredis, world int) []*redis.Reducer {
	t.Helper()
	return newRanks(t, mr, world, world)
}

// newRanks creates reducers for ranks 0..n-1 of a run with the given world size
func newRanks(t *testing.T, mr *miniredis.Miniredis, n, world int) []*redis.Reducer {
	t.Helper()
	workers := make([]*redis.Reducer, n)
	for rank := range workers {
		client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
		r, err := redis.NewFromClient(client, "run-1", rank, world,
			redis.WithPrefix("test:"), redis.WithPollInterval(time.Millisecond))
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })
		workers[rank] = r
	}
	return workers
}

func parallel[T any](t *testing.T, workers []*redis.Reducer, fn func(r *redis.Reducer) (T, error)) []T {
	t.Helper()
	out := make([]T, len(workers))
	errs := make([]error, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i], errs[i] = fn(w)
		}()
	}
	wg.Wait()
	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	return out
}

func TestRedisReducer_Mean(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	workers := newWorkers(t, mr, 3)
	var _ distributed.Reducer = workers[0]
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		means := parallel(t, workers, func(r *redis.Reducer) (float64, error) {
			return r.AllReduceMean(ctx, float64(r.Rank()*10+round))
		})
		for _, v := range means {
			assert.InDelta(t, float64(10+round), v, 1e-12)
		}
	}

	vecs := parallel(t, workers, func(r *redis.Reducer) ([]float32, error) {
		return r.AllReduceMeanVec(ctx, []float32{float32(r.Rank()), 3})
	})
	for _, v := range vecs {
		assert.Equal(t, []float32{1, 3}, v)
	}

	launch := workers[0].LaunchID()
	require.NotEmpty(t, launch)
	for _, w := range workers {
		assert.Equal(t, launch, w.LaunchID())
	}

	// every round is removed once all workers have read it
	for _, key := range mr.Keys() {
		assert.False(t, strings.HasPrefix(key, "test:run-1:"+launch+":"), "leftover round %s", key)
	}
}

func TestRedisReducer_GatherRankOrder(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	workers := newWorkers(t, mr, 4)
	gathered := parallel(t, workers, func(r *redis.Reducer) ([]float32, error) {
		// stagger arrival so completion order differs from rank order
		time.Sleep(time.Duration(4-r.Rank()) * 3 * time.Millisecond)
		return r.AllGather(context.Background(), []float32{float32(r.Rank())})
	})
	for _, v := range gathered {
		assert.Equal(t, []float32{0, 1, 2, 3}, v)
	}
}

func TestRedisReducer_WaitsForOthers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	workers := newWorkers(t, mr, 2)
	parallel(t, workers, func(r *redis.Reducer) (float64, error) {
		return r.AllReduceMean(context.Background(), 1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = workers[0].AllReduceMean(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, mr.Exists("test:run-1:"+workers[0].LaunchID()+":2"), "contribution stays published for the other worker")
}

func TestRedisReducer_JoinWaitsForEveryRank(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	ranks := newRanks(t, mr, 1, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = ranks[0].Join(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, ranks[0].LaunchID())
}

func TestRedisReducer_RelaunchIgnoresLeftoverRounds(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	// a crashed launch: one completed round, then rank 1 publishes round 2 alone
	crashed := newWorkers(t, mr, 2)
	parallel(t, crashed, func(r *redis.Reducer) (float64, error) {
		return r.AllReduceMean(context.Background(), 0)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err = crashed[1].AllReduceMean(ctx, 1000)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the relaunched rank 0 must block until the new rank 1 arrives
	relaunched := newWorkers(t, mr, 2)
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, err = relaunched[0].AllReduceMean(ctx, 2)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// and so must a relaunched rank 1 that sees only the old launch
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, err = relaunched[1].AllReduceMean(ctx, 4)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	means := parallel(t, relaunched, func(r *redis.Reducer) (float64, error) {
		return r.AllReduceMean(context.Background(), float64(2+2*r.Rank()))
	})
	for _, v := range means {
		assert.Equal(t, 3.0, v)
	}
	assert.NotEqual(t, crashed[0].LaunchID(), relaunched[0].LaunchID())
}

func TestRedisReducer_Validation(t *testing.T) {
	client := backend.NewClient(&backend.Options{Addr: "localhost:0"})
	defer client.Close()

	_, err := redis.NewFromClient(client, "run", 2, 2)
	assert.Error(t, err)
	_, err = redis.NewFromClient(client, "", 0, 1)
	assert.Error(t, err)
	_, err = redis.NewFromClient(client, "run", 0, 0)
	assert.Error(t, err)

	single, err := redis.NewFromClient(client, "run", 0, 1)
	require.NoError(t, err)
	v, err := single.AllReduceMean(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
}
