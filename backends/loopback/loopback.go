// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package loopback runs an entire collective world inside one process:
// each "worker" is a goroutine holding its own Backend over a shared round
// table. It exists for tests and local experimentation, where real
// multi-process transport would only add noise.
package loopback

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"bramble.dev/collective"
	"bramble.dev/collective/internal/rounds"
	"bramble.dev/collective/tensors"
)

// World is the shared state of an in-process job: the round table and the
// set of configured groups.
type World struct {
	size  int
	table *rounds.Table
	accel bool
}

// Option configures a World.
type Option func(*World)

// WithAccelGroup also initializes the accelerator communication group.
// Without it, routing an accel buffer fails with ErrGroupNotInitialized,
// mirroring a job whose accelerator topology was never set up.
func WithAccelGroup() Option {
	return func(w *World) { w.accel = true }
}

// NewWorld creates an in-process world of size workers.
func NewWorld(size int, opts ...Option) *World {
	w := &World{size: size, table: rounds.New(size)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Backend returns the backend for one rank. Each rank must use its own.
func (w *World) Backend(rank int) *Backend {
	return &Backend{world: w, rank: rank, seq: make(map[tensors.Device]uint64)}
}

// Spawn runs f once per rank, each on its own goroutine with that rank's
// backend, and waits for all of them. The first error cancels nothing --
// collectives have no cancellation -- but is returned once every worker
// finishes or deadlocks out via its context.
func Spawn(w *World, f func(rank int, b *Backend) error) error {
	g := new(errgroup.Group)
	for rank := 0; rank < w.size; rank++ {
		b := w.Backend(rank)
		g.Go(func() error { return f(b.rank, b) })
	}
	return g.Wait()
}

// Backend is one rank's view of the world.
type Backend struct {
	world *World
	rank  int

	mu  sync.Mutex
	seq map[tensors.Device]uint64
}

var _ collective.Backend = (*Backend)(nil)

type group struct{ device tensors.Device }

func (g group) Device() tensors.Device { return g.device }

// Rank returns this worker's identity.
func (b *Backend) Rank() int { return b.rank }

// WorldSize returns the number of workers in the world.
func (b *Backend) WorldSize() int { return b.world.size }

// GroupFor returns the group for a device class.
func (b *Backend) GroupFor(device tensors.Device) (collective.Group, error) {
	if device == tensors.Accel && !b.world.accel {
		return nil, errors.Wrap(collective.ErrGroupNotInitialized, "accel")
	}
	return group{device: device}, nil
}

// nextKey allocates this rank's next round on g. Ranks that issue the same
// sequence of calls per group land on the same keys; that is the caller's
// protocol obligation, not something the backend can check.
func (b *Backend) nextKey(g collective.Group) rounds.Key {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.seq[g.Device()]
	b.seq[g.Device()]++
	return rounds.Key{Group: g.Device().String(), Seq: seq}
}

// AllReduce implements collective.Backend.
func (b *Backend) AllReduce(ctx context.Context, buf *tensors.Tensor, op tensors.ReduceOp, g collective.Group) error {
	res, err := b.world.table.Reduce(ctx, b.nextKey(g), b.rank, buf.Clone(), op)
	if err != nil {
		return err
	}
	return tensors.CopyRange(buf.Flat(), 0, res)
}

// Reduce implements collective.Backend. Only dst's buffer receives the
// result; the other workers' buffers are left as submitted.
func (b *Backend) Reduce(ctx context.Context, buf *tensors.Tensor, op tensors.ReduceOp, dst int, g collective.Group) error {
	if dst < 0 || dst >= b.world.size {
		return errors.Errorf("loopback: reduce to rank %d outside world of %d", dst, b.world.size)
	}
	res, err := b.world.table.Reduce(ctx, b.nextKey(g), b.rank, buf.Clone(), op)
	if err != nil {
		return err
	}
	if b.rank != dst {
		return nil
	}
	return tensors.CopyRange(buf.Flat(), 0, res)
}

// Barrier implements collective.Backend.
func (b *Backend) Barrier(ctx context.Context, g collective.Group) error {
	return b.world.table.Barrier(ctx, b.nextKey(g), b.rank)
}
