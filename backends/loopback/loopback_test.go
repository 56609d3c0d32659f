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

package loopback

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"bramble.dev/collective"
	"bramble.dev/collective/tensors"
)

func TestAllReduce(t *testing.T) {
	ctx := context.Background()
	w := NewWorld(3)
	results := make([][]int64, 3)
	err := Spawn(w, func(rank int, b *Backend) error {
		g, err := b.GroupFor(tensors.CPU)
		if err != nil {
			return err
		}
		buf := tensors.New1D(tensors.CPU, []int64{int64(rank), int64(rank) * 2})
		if err := b.AllReduce(ctx, buf, tensors.OpSum, g); err != nil {
			return err
		}
		results[rank] = tensors.Data[int64](buf)
		return nil
	})
	if err != nil {
		t.Fatalf("world failed: %v", err)
	}
	for rank, got := range results {
		if d := cmp.Diff([]int64{3, 6}, got); d != "" {
			t.Errorf("rank %d: (-want, +got)\n%v", rank, d)
		}
	}
}

func TestReduce_OnlyDestinationReceives(t *testing.T) {
	ctx := context.Background()
	const dst = 1
	w := NewWorld(3)
	results := make([][]int64, 3)
	err := Spawn(w, func(rank int, b *Backend) error {
		g, err := b.GroupFor(tensors.CPU)
		if err != nil {
			return err
		}
		buf := tensors.New1D(tensors.CPU, []int64{int64(rank) + 1})
		if err := b.Reduce(ctx, buf, tensors.OpProd, dst, g); err != nil {
			return err
		}
		results[rank] = tensors.Data[int64](buf)
		return nil
	})
	if err != nil {
		t.Fatalf("world failed: %v", err)
	}
	if d := cmp.Diff([]int64{6}, results[dst]); d != "" {
		t.Errorf("destination: (-want, +got)\n%v", d)
	}
	// Non-destination buffers keep their submitted contents.
	for _, rank := range []int{0, 2} {
		if d := cmp.Diff([]int64{int64(rank) + 1}, results[rank]); d != "" {
			t.Errorf("rank %d buffer changed: (-want, +got)\n%v", rank, d)
		}
	}
}

func TestReduce_DestinationOutsideWorld(t *testing.T) {
	ctx := context.Background()
	b := NewWorld(2).Backend(0)
	g, err := b.GroupFor(tensors.CPU)
	if err != nil {
		t.Fatal(err)
	}
	buf := tensors.New1D(tensors.CPU, []int64{1})
	if err := b.Reduce(ctx, buf, tensors.OpSum, 5, g); err == nil {
		t.Error("reduce to rank 5 in a world of 2 succeeded")
	}
}

func TestBarrier_ReleasesAllRanks(t *testing.T) {
	ctx := context.Background()
	w := NewWorld(4)
	var mu sync.Mutex
	arrived := 0
	err := Spawn(w, func(rank int, b *Backend) error {
		g, err := b.GroupFor(tensors.CPU)
		if err != nil {
			return err
		}
		mu.Lock()
		arrived++
		mu.Unlock()
		if err := b.Barrier(ctx, g); err != nil {
			return err
		}
		// Past the barrier every rank must observe all arrivals.
		mu.Lock()
		defer mu.Unlock()
		if arrived != 4 {
			return errors.Errorf("rank %d passed the barrier with %d arrivals", rank, arrived)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("world failed: %v", err)
	}
}

func TestGroupFor_AccelRequiresOption(t *testing.T) {
	b := NewWorld(1).Backend(0)
	if _, err := b.GroupFor(tensors.Accel); !errors.Is(err, collective.ErrGroupNotInitialized) {
		t.Errorf("got %v, want ErrGroupNotInitialized", err)
	}
	if _, err := NewWorld(1, WithAccelGroup()).Backend(0).GroupFor(tensors.Accel); err != nil {
		t.Errorf("accel group configured but GroupFor failed: %v", err)
	}
}

func TestContextCancelUnblocksWaiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewWorld(2).Backend(0)
	g, err := b.GroupFor(tensors.CPU)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- b.Barrier(ctx, g)
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
