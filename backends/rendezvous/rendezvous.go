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

// Package rendezvous is the multi-process backend: every worker dials a
// single rendezvous server, which hosts the round table and pairs up
// matching collective calls. Each round is one unary RPC per rank that
// blocks until the whole world has arrived.
package rendezvous

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"bramble.dev/collective"
	"bramble.dev/collective/tensors"
)

// Config identifies one worker within a job.
type Config struct {
	// Rank is this worker's identity, in [0, WorldSize).
	Rank int
	// WorldSize is the number of cooperating workers.
	WorldSize int
	// Addr is the rendezvous server's host:port.
	Addr string
	// AccelGroup also initializes the accelerator communication group.
	AccelGroup bool
}

// Backend is a worker's connection to the rendezvous server. It satisfies
// collective.Backend; one Backend serves one rank for the lifetime of the
// job.
type Backend struct {
	cfg  Config
	conn *grpc.ClientConn

	mu  sync.Mutex
	seq map[tensors.Device]uint64
}

var _ collective.Backend = (*Backend)(nil)

// Dial connects a worker to the rendezvous server. The connection is lazy;
// calls wait for the server to come up rather than failing fast, since
// workers race the server at job start.
func Dial(cfg Config) (*Backend, error) {
	if cfg.Rank < 0 || cfg.Rank >= cfg.WorldSize {
		return nil, errors.Errorf("rendezvous: rank %d outside world of %d", cfg.Rank, cfg.WorldSize)
	}
	conn, err := grpc.NewClient(cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.WaitForReady(true)),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "rendezvous: dial %v", cfg.Addr)
	}
	return &Backend{cfg: cfg, conn: conn, seq: make(map[tensors.Device]uint64)}, nil
}

// Close releases the connection to the server.
func (b *Backend) Close() error {
	return b.conn.Close()
}

type group struct{ device tensors.Device }

func (g group) Device() tensors.Device { return g.device }

// Rank returns this worker's identity.
func (b *Backend) Rank() int { return b.cfg.Rank }

// WorldSize returns the number of workers in the job.
func (b *Backend) WorldSize() int { return b.cfg.WorldSize }

// GroupFor returns the group for a device class.
func (b *Backend) GroupFor(device tensors.Device) (collective.Group, error) {
	if device == tensors.Accel && !b.cfg.AccelGroup {
		return nil, errors.Wrap(collective.ErrGroupNotInitialized, "accel")
	}
	return group{device: device}, nil
}

// next allocates this rank's next round sequence number on g. Matched call
// sequences across ranks land on matching numbers.
func (b *Backend) next(g collective.Group) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.seq[g.Device()]
	b.seq[g.Device()]++
	return seq
}

func (b *Backend) collect(ctx context.Context, f *frame) (*frameResult, error) {
	in, err := encodeFrame(f)
	if err != nil {
		return nil, err
	}
	out := new(wrapperspb.BytesValue)
	if err := b.conn.Invoke(ctx, collectMethod, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return decodeResult(out)
}

// AllReduce implements collective.Backend.
func (b *Backend) AllReduce(ctx context.Context, buf *tensors.Tensor, op tensors.ReduceOp, g collective.Group) error {
	f := frameForTensor(frameReduce, g.Device().String(), b.next(g), b.cfg.Rank, buf, op)
	res, err := b.collect(ctx, f)
	if err != nil {
		return err
	}
	combined, err := res.tensor(buf.Device())
	if err != nil {
		return err
	}
	return tensors.CopyRange(buf.Flat(), 0, combined)
}

// Reduce implements collective.Backend. Every rank ships its contribution;
// only dst's buffer receives the combined result.
func (b *Backend) Reduce(ctx context.Context, buf *tensors.Tensor, op tensors.ReduceOp, dst int, g collective.Group) error {
	if dst < 0 || dst >= b.cfg.WorldSize {
		return errors.Errorf("rendezvous: reduce to rank %d outside world of %d", dst, b.cfg.WorldSize)
	}
	f := frameForTensor(frameReduce, g.Device().String(), b.next(g), b.cfg.Rank, buf, op)
	res, err := b.collect(ctx, f)
	if err != nil {
		return err
	}
	if b.cfg.Rank != dst {
		return nil
	}
	combined, err := res.tensor(buf.Device())
	if err != nil {
		return err
	}
	return tensors.CopyRange(buf.Flat(), 0, combined)
}

// Barrier implements collective.Backend.
func (b *Backend) Barrier(ctx context.Context, g collective.Group) error {
	f := frameForTensor(frameBarrier, g.Device().String(), b.next(g), b.cfg.Rank, nil, 0)
	_, err := b.collect(ctx, f)
	return err
}

// fromStatus maps server status codes back onto the package sentinels.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return errors.Wrap(collective.ErrShapeMismatch, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return err
}
