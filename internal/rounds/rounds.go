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

// Package rounds coordinates one collective round at a time: it collects a
// contribution from every rank, validates and combines them, and fans the
// result out to all waiters. Both the loopback and the rendezvous backends
// sit on this table, below their respective transports.
package rounds

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"bramble.dev/collective"
	"bramble.dev/collective/tensors"
)

// Key names one round. Workers reach the same round by arriving at the
// same per-group sequence number; that is the matched-call-sequence
// protocol obligation made concrete.
type Key struct {
	Group string
	Seq   uint64
}

// Table tracks in-flight rounds for a fixed world size.
type Table struct {
	world int

	mu     sync.Mutex
	active map[Key]*round
}

type round struct {
	barrier  bool
	op       tensors.ReduceOp
	contribs []*tensors.Tensor
	arrived  int

	done   chan struct{}
	result *tensors.Tensor
	err    error
}

// New returns a table for world cooperating ranks.
func New(world int) *Table {
	return &Table{world: world, active: make(map[Key]*round)}
}

// WorldSize returns the number of ranks each round waits for.
func (t *Table) WorldSize() int { return t.world }

// Reduce submits rank's contribution to the keyed round and blocks until
// every rank has arrived. All callers receive the same combined tensor;
// contributions are folded in rank order so the result is deterministic.
// The submitted tensor must not be mutated afterwards.
func (t *Table) Reduce(ctx context.Context, key Key, rank int, buf *tensors.Tensor, op tensors.ReduceOp) (*tensors.Tensor, error) {
	r, err := t.submit(key, rank, buf, op, false)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.result, r.err
	}
}

// Barrier blocks until every rank has entered the keyed round.
func (t *Table) Barrier(ctx context.Context, key Key, rank int) error {
	r, err := t.submit(key, rank, nil, 0, true)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return r.err
	}
}

func (t *Table) submit(key Key, rank int, buf *tensors.Tensor, op tensors.ReduceOp, barrier bool) (*round, error) {
	if rank < 0 || rank >= t.world {
		return nil, errors.Errorf("rounds: rank %d outside world of %d", rank, t.world)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.active[key]
	if !ok {
		r = &round{
			barrier:  barrier,
			op:       op,
			contribs: make([]*tensors.Tensor, t.world),
			done:     make(chan struct{}),
		}
		t.active[key] = r
	}
	if r.barrier != barrier || (!barrier && r.op != op) {
		return nil, errors.Errorf("rounds: %v arrived with a different operation than its peers", key)
	}
	if !barrier && r.contribs[rank] != nil {
		return nil, errors.Errorf("rounds: rank %d contributed twice to %v", rank, key)
	}
	if !barrier {
		r.contribs[rank] = buf
	}
	r.arrived++
	if r.arrived == t.world {
		r.result, r.err = r.finish()
		// Late lookups of the key start a fresh round; every current
		// waiter holds the pointer.
		delete(t.active, key)
		close(r.done)
	}
	return r, nil
}

// finish validates the full set of contributions and folds them in rank
// order.
func (r *round) finish() (*tensors.Tensor, error) {
	if r.barrier {
		return nil, nil
	}
	first := r.contribs[0]
	for rank, c := range r.contribs {
		if c.DType() != first.DType() || c.NumElements() != first.NumElements() {
			return nil, errors.Wrapf(collective.ErrShapeMismatch,
				"rank %d contributed %v[%d], rank 0 contributed %v[%d]",
				rank, c.DType(), c.NumElements(), first.DType(), first.NumElements())
		}
	}
	acc := first.Clone()
	for _, c := range r.contribs[1:] {
		if err := tensors.Combine(acc, c, r.op); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
