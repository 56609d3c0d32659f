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

package collective_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"bramble.dev/collective"
	"bramble.dev/collective/backends/loopback"
	"bramble.dev/collective/tensors"
)

func TestCat_UnevenShards(t *testing.T) {
	ctx := context.Background()
	// Rank r holds r+1 consecutive values of 0..9; Cat restores the full
	// range in rank order on every worker.
	starts := []int64{0, 1, 3, 6}
	runWorld(t, 4, func(rank int, c *collective.Communicator) error {
		shard := make([]int64, rank+1)
		for i := range shard {
			shard[i] = starts[rank] + int64(i)
		}
		got, err := c.Cat(ctx, collective.LeafOf(tensors.New1D(tensors.CPU, shard)))
		if err != nil {
			return err
		}
		want := []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
		if d := cmp.Diff(want, leafData[int64](got)); d != "" {
			return errors.Errorf("rank %d: (-want, +got)\n%v", rank, d)
		}
		return nil
	})
}

func TestCat_ZeroWidthContribution(t *testing.T) {
	ctx := context.Background()
	runWorld(t, 3, func(rank int, c *collective.Communicator) error {
		// Rank 1 has nothing to contribute this round.
		var shard []float64
		if rank != 1 {
			shard = []float64{float64(rank)}
		}
		got, err := c.Cat(ctx, collective.LeafOf(tensors.New1D(tensors.CPU, shard)))
		if err != nil {
			return err
		}
		if d := cmp.Diff([]float64{0, 2}, leafData[float64](got)); d != "" {
			return errors.Errorf("rank %d: (-want, +got)\n%v", rank, d)
		}
		return nil
	})
}

func TestCat_KeepsTrailingShape(t *testing.T) {
	ctx := context.Background()
	runWorld(t, 2, func(rank int, c *collective.Communicator) error {
		// Rank r contributes r+1 rows of width 2.
		rows := rank + 1
		data := make([]int32, 2*rows)
		for i := range data {
			data[i] = int32(rank)
		}
		mat, err := tensors.FromSlice(tensors.CPU, tensors.Shape{rows, 2}, data)
		if err != nil {
			return err
		}
		got, err := c.Cat(ctx, collective.LeafOf(mat))
		if err != nil {
			return err
		}
		out := got.(collective.Leaf).Tensor
		if !out.Shape().Equal(tensors.Shape{3, 2}) {
			return errors.Errorf("rank %d: merged shape is %v, want (3, 2)", rank, out.Shape())
		}
		if d := cmp.Diff([]int32{0, 0, 1, 1, 1, 1}, tensors.Data[int32](out)); d != "" {
			return errors.Errorf("rank %d: (-want, +got)\n%v", rank, d)
		}
		return nil
	})
}

func TestCat_MultipleLeavesStayAligned(t *testing.T) {
	ctx := context.Background()
	runWorld(t, 2, func(rank int, c *collective.Communicator) error {
		// Two int64 leaves share one bucket; each leaf's shards must land in
		// its own block, not interleave with its bucket neighbor's.
		obj := collective.Map{
			"ids":    collective.LeafOf(tensors.New1D(tensors.CPU, []int64{int64(rank)})),
			"labels": collective.LeafOf(tensors.New1D(tensors.CPU, []int64{10 + int64(rank), 20 + int64(rank)})),
		}
		got, err := c.Cat(ctx, obj)
		if err != nil {
			return err
		}
		m := got.(collective.Map)
		if d := cmp.Diff([]int64{0, 1}, leafData[int64](m["ids"])); d != "" {
			return errors.Errorf("rank %d ids: (-want, +got)\n%v", rank, d)
		}
		if d := cmp.Diff([]int64{10, 20, 11, 21}, leafData[int64](m["labels"])); d != "" {
			return errors.Errorf("rank %d labels: (-want, +got)\n%v", rank, d)
		}
		return nil
	})
}

func TestCat_BoolLeaves(t *testing.T) {
	ctx := context.Background()
	runWorld(t, 2, func(rank int, c *collective.Communicator) error {
		shard := []bool{rank == 0, rank == 1}
		got, err := c.Cat(ctx, collective.LeafOf(tensors.New1D(tensors.CPU, shard)))
		if err != nil {
			return err
		}
		if d := cmp.Diff([]bool{true, false, false, true}, leafData[bool](got)); d != "" {
			return errors.Errorf("rank %d: (-want, +got)\n%v", rank, d)
		}
		return nil
	})
}

func TestCat_TrailingShapeMismatch(t *testing.T) {
	ctx := context.Background()
	w := loopback.NewWorld(2)
	err := loopback.Spawn(w, func(rank int, b *loopback.Backend) error {
		c := collective.New(b)
		// Width 2 on rank 0, width 3 on rank 1: the learned column count
		// fits neither trailing shape.
		width := 2 + rank
		mat, err := tensors.FromSlice(tensors.CPU, tensors.Shape{1, width}, make([]int64, width))
		if err != nil {
			return err
		}
		_, err = c.Cat(ctx, collective.LeafOf(mat))
		if !errors.Is(err, collective.ErrShapeMismatch) {
			return errors.Errorf("rank %d got %v, want ErrShapeMismatch", rank, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
