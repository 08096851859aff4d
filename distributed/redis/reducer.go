// Package redis implements distributed collectives for workers in separate
// processes, coordinated through Redis hashes.
package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/tsawler/go-sdf/distributed"
)

// Reducer implements distributed.Reducer. Each collective writes this
// worker's contribution into the hash <prefix><run>:<launch>:<seq> under its
// rank, waits until the hash holds one field per worker, then combines them.
//
// The launch id scopes rounds to one start of the job, so a relaunch never
// reads rounds left behind by a crashed one. It is agreed on by Join: rank 0
// clears <prefix><run>:join, waits for every other rank to register a
// per-process nonce there, then publishes a fresh id together with the
// nonces it accepted in <prefix><run>:launch. A rank only trusts a launch
// that lists its own nonce.
type Reducer struct {
	client *backend.Client
	rank   int
	size   int
	run    string
	prefix string
	ttl    time.Duration
	poll   time.Duration
	seq    uint64
	nonce  string
	launch string
}

type Option func(*Reducer)

// WithPrefix sets the key prefix for collective rounds.
func WithPrefix(prefix string) Option {
	return func(r *Reducer) {
		r.prefix = prefix
	}
}

// WithTTL sets the expiration of round keys.
func WithTTL(ttl time.Duration) Option {
	return func(r *Reducer) {
		r.ttl = ttl
	}
}

// WithPollInterval sets how often a waiting worker checks for the others.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reducer) {
		r.poll = d
	}
}

// New creates a reducer for rank out of worldSize workers. All workers of a
// run must use the same run id.
func New(address, password string, db int, run string, rank, worldSize int, opts ...Option) (*Reducer, error) {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, run, rank, worldSize, opts...)
}

// NewFromClient creates a reducer from an existing client.
func NewFromClient(client *backend.Client, run string, rank, worldSize int, opts ...Option) (*Reducer, error) {
	if worldSize < 1 {
		return nil, fmt.Errorf("world size must be at least 1, got %d", worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return nil, fmt.Errorf("rank %d out of range for world size %d", rank, worldSize)
	}
	if run == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}

	r := &Reducer{
		client: client,
		rank:   rank,
		size:   worldSize,
		run:    run,
		prefix: "sdf:collective:",
		ttl:    10 * time.Minute,
		poll:   5 * time.Millisecond,
		nonce:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Reducer) Rank() int      { return r.rank }
func (r *Reducer) WorldSize() int { return r.size }

func (r *Reducer) AllReduceMean(ctx context.Context, v float64) (float64, error) {
	out, err := r.exchange(ctx, distributed.OpMean, []float64{v})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (r *Reducer) AllReduceMeanVec(ctx context.Context, v []float32) ([]float32, error) {
	out, err := r.exchange(ctx, distributed.OpMean, distributed.ToFloat64(v))
	if err != nil {
		return nil, err
	}
	return distributed.ToFloat32(out), nil
}

func (r *Reducer) AllGather(ctx context.Context, v []float32) ([]float32, error) {
	out, err := r.exchange(ctx, distributed.OpGather, distributed.ToFloat64(v))
	if err != nil {
		return nil, err
	}
	return distributed.ToFloat32(out), nil
}

// Close closes the redis client.
func (r *Reducer) Close() error {
	return r.client.Close()
}

// LaunchID returns the id agreed on by Join, or "" before it completes.
func (r *Reducer) LaunchID() string { return r.launch }

// Join blocks until every worker of this launch has arrived. Collectives call
// it on first use, so calling it directly is only needed to rendezvous early.
func (r *Reducer) Join(ctx context.Context) error {
	if r.launch != "" || r.size == 1 {
		return nil
	}
	var (
		id  string
		err error
	)
	if r.rank == 0 {
		id, err = r.lead(ctx)
	} else {
		id, err = r.follow(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to join run %s: %w", r.run, err)
	}
	r.launch = id
	return nil
}

func (r *Reducer) joinKey() string   { return r.prefix + r.run + ":join" }
func (r *Reducer) launchKey() string { return r.prefix + r.run + ":launch" }

func (r *Reducer) lead(ctx context.Context) (string, error) {
	if err := r.client.Del(ctx, r.joinKey(), r.launchKey()).Err(); err != nil {
		return "", err
	}

	var members map[string]string
	err := r.wait(ctx, func() (bool, error) {
		var err error
		members, err = r.client.HGetAll(ctx, r.joinKey()).Result()
		return len(members) >= r.size-1, err
	})
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	fields := map[string]any{"id": id}
	for rank, nonce := range members {
		fields[rank] = nonce
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.launchKey(), fields)
	pipe.Expire(ctx, r.launchKey(), r.ttl)
	pipe.Del(ctx, r.joinKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Reducer) follow(ctx context.Context) (string, error) {
	rank := strconv.Itoa(r.rank)
	var id string
	err := r.wait(ctx, func() (bool, error) {
		launch, err := r.client.HGetAll(ctx, r.launchKey()).Result()
		if err != nil {
			return false, err
		}
		if launch[rank] == r.nonce && launch["id"] != "" {
			id = launch["id"]
			return true, nil
		}
		// re-register every poll: rank 0 may clear the hash after we wrote it
		pipe := r.client.TxPipeline()
		pipe.HSet(ctx, r.joinKey(), rank, r.nonce)
		pipe.Expire(ctx, r.joinKey(), r.ttl)
		_, err = pipe.Exec(ctx)
		return false, err
	})
	return id, err
}

// wait calls done every poll interval until it reports true, fails, or ctx ends
func (r *Reducer) wait(ctx context.Context, done func() (bool, error)) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reducer) key(seq uint64) string {
	return r.prefix + r.run + ":" + r.launch + ":" + strconv.FormatUint(seq, 10)
}

func (r *Reducer) exchange(ctx context.Context, op distributed.Op, data []float64) ([]float64, error) {
	if r.size == 1 {
		return distributed.Combine(op, [][]float64{data})
	}
	if err := r.Join(ctx); err != nil {
		return nil, err
	}

	r.seq++
	key := r.key(r.seq)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(r.rank), encodePayload(op, data))
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to publish contribution: %w", err)
	}

	err := r.wait(ctx, func() (bool, error) {
		n, err := r.client.HLen(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("failed to poll round %s: %w", key, err)
		}
		return int(n) >= r.size, nil
	})
	if err != nil {
		return nil, err
	}

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read round %s: %w", key, err)
	}

	contrib := make([][]float64, r.size)
	for rank := 0; rank < r.size; rank++ {
		raw, ok := fields[strconv.Itoa(rank)]
		if !ok {
			return nil, fmt.Errorf("round %s is missing rank %d", key, rank)
		}
		gotOp, values, err := decodePayload([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("round %s rank %d: %w", key, rank, err)
		}
		if gotOp != op {
			return nil, fmt.Errorf("collective mismatch in round %s: rank %d called %s, rank %d called %s", key, r.rank, op, rank, gotOp)
		}
		contrib[rank] = values
	}

	// the last reader removes the round
	readKey := key + ":read"
	pipe = r.client.TxPipeline()
	incr := pipe.Incr(ctx, readKey)
	pipe.Expire(ctx, readKey, r.ttl)
	if _, err := pipe.Exec(ctx); err == nil && incr.Val() >= int64(r.size) {
		r.client.Del(ctx, key, readKey)
	}

	return distributed.Combine(op, contrib)
}

// encodePayload frames a contribution as: op length, op, then little-endian float64 values
func encodePayload(op distributed.Op, data []float64) []byte {
	buf := make([]byte, 1+len(op)+8*len(data))
	buf[0] = byte(len(op))
	copy(buf[1:], op)
	off := 1 + len(op)
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[off+8*i:], math.Float64bits(v))
	}
	return buf
}

func decodePayload(buf []byte) (distributed.Op, []float64, error) {
	if len(buf) == 0 {
		return "", nil, fmt.Errorf("empty payload")
	}
	n := int(buf[0])
	if len(buf) < 1+n || (len(buf)-1-n)%8 != 0 {
		return "", nil, fmt.Errorf("malformed payload of %d bytes", len(buf))
	}
	op := distributed.Op(buf[1 : 1+n])
	body := buf[1+n:]
	values := make([]float64, len(body)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[8*i:]))
	}
	return op, values, nil
}
