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

package collective

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"bramble.dev/collective/tensors"
)

// Group identifies one logical communication domain within a backend. Each
// device class routes through its own group; mixing them up misroutes
// buffers, so groups are opaque handles minted by the backend itself.
type Group interface {
	Device() tensors.Device
}

// Backend supplies the synchronous collective primitives a Communicator is
// layered on. Calls block until the collective completes on every worker.
//
// Every participating worker must issue the exact same sequence of calls
// per group, in the same order, with buffers of the same dtype. The backend
// cannot verify ordering across processes; a mismatched call count
// deadlocks the job and a reordered one silently misassigns data.
type Backend interface {
	// Rank is this worker's identity, in [0, WorldSize).
	Rank() int
	// WorldSize is the total number of cooperating workers.
	WorldSize() int
	// GroupFor returns the group serving a device class, or
	// ErrGroupNotInitialized if the topology for it was never set up.
	GroupFor(device tensors.Device) (Group, error)

	// AllReduce combines buf elementwise across all workers and leaves the
	// result in buf on every worker.
	AllReduce(ctx context.Context, buf *tensors.Tensor, op tensors.ReduceOp, g Group) error
	// Reduce combines buf elementwise across all workers and leaves the
	// result in buf on rank dst only; other workers' buffers hold
	// undefined content afterwards.
	Reduce(ctx context.Context, buf *tensors.Tensor, op tensors.ReduceOp, dst int, g Group) error
	// Barrier blocks until every worker has entered it. When it returns,
	// each participant has observed that all others reached the same point.
	Barrier(ctx context.Context, g Group) error
}

// Communicator carries the collective operations over a backend. It is an
// explicit value created once at process start and threaded into every
// call site; there is no package-level communication state.
//
// A Communicator is stateless beyond its identity and safe to share, but
// the protocol is not: all workers must invoke the same operations in the
// same order.
type Communicator struct {
	id      string
	name    string
	backend Backend
	log     *slog.Logger
}

// New wraps a backend. Accepts Name and WithLogger options.
func New(b Backend, opts ...Options) *Communicator {
	opt := joinOptions(opts)
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	name := opt.Name
	if name == "" {
		name = "comm-" + id[:8]
	}
	return &Communicator{
		id:      id,
		name:    name,
		backend: b,
		log: log.With(
			slog.String("comm", name),
			slog.Int("rank", b.Rank()),
			slog.Int("world_size", b.WorldSize()),
		),
	}
}

// ID returns the unique session identifier of this communicator.
func (c *Communicator) ID() string { return c.id }

// Rank returns the local worker's rank.
func (c *Communicator) Rank() int { return c.backend.Rank() }

// WorldSize returns the number of cooperating workers.
func (c *Communicator) WorldSize() int { return c.backend.WorldSize() }

func (c *Communicator) groupFor(device tensors.Device) (Group, error) {
	g, err := c.backend.GroupFor(device)
	if err != nil {
		return nil, errors.Wrapf(err, "%v buffers", device)
	}
	return g, nil
}

// exchange issues the reduction for one dtype bucket: all-reduce when no
// destination is set, a directed reduce otherwise.
func (c *Communicator) exchange(ctx context.Context, buf *tensors.Tensor, op tensors.ReduceOp, dst int, g Group) error {
	if dst < 0 {
		return c.backend.AllReduce(ctx, buf, op, g)
	}
	return c.backend.Reduce(ctx, buf, op, dst, g)
}
