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

package rounds

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"bramble.dev/collective"
	"bramble.dev/collective/tensors"
)

func TestReduce_AllRanksShareResult(t *testing.T) {
	ctx := context.Background()
	table := New(3)
	key := Key{Group: "cpu", Seq: 0}

	results := make([]*tensors.Tensor, 3)
	var g errgroup.Group
	for rank := 0; rank < 3; rank++ {
		rank := rank
		g.Go(func() error {
			buf := tensors.New1D(tensors.CPU, []int64{int64(rank) + 1})
			res, err := table.Reduce(ctx, key, rank, buf, tensors.OpSum)
			results[rank] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("round failed: %v", err)
	}
	for rank, res := range results {
		if d := cmp.Diff([]int64{6}, tensors.Data[int64](res)); d != "" {
			t.Errorf("rank %d: (-want, +got)\n%v", rank, d)
		}
	}
}

func TestReduce_RankOutsideWorld(t *testing.T) {
	table := New(2)
	buf := tensors.New1D(tensors.CPU, []int64{1})
	if _, err := table.Reduce(context.Background(), Key{}, 2, buf, tensors.OpSum); err == nil {
		t.Error("rank 2 admitted to a world of 2")
	}
}

func TestSubmit_DuplicateContribution(t *testing.T) {
	table := New(2)
	key := Key{Group: "cpu", Seq: 5}

	if _, err := table.submit(key, 0, tensors.New1D(tensors.CPU, []int64{1}), tensors.OpSum, false); err != nil {
		t.Fatalf("first arrival rejected: %v", err)
	}
	// Same rank arriving again at the same round is a protocol violation.
	if _, err := table.submit(key, 0, tensors.New1D(tensors.CPU, []int64{1}), tensors.OpSum, false); err == nil {
		t.Error("duplicate contribution admitted")
	}
}

func TestReduce_ShapeMismatch(t *testing.T) {
	ctx := context.Background()
	table := New(2)
	key := Key{Group: "cpu", Seq: 0}

	var g errgroup.Group
	for rank := 0; rank < 2; rank++ {
		rank := rank
		g.Go(func() error {
			buf := tensors.New1D(tensors.CPU, make([]int64, 1+rank))
			_, err := table.Reduce(ctx, key, rank, buf, tensors.OpSum)
			if !errors.Is(err, collective.ErrShapeMismatch) {
				return errors.Errorf("rank %d got %v, want ErrShapeMismatch", rank, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSubmit_OpMismatch(t *testing.T) {
	table := New(3)
	key := Key{Group: "cpu", Seq: 0}

	if _, err := table.submit(key, 0, tensors.New1D(tensors.CPU, []int64{1}), tensors.OpSum, false); err != nil {
		t.Fatalf("first arrival rejected: %v", err)
	}
	if _, err := table.submit(key, 1, tensors.New1D(tensors.CPU, []int64{1}), tensors.OpMax, false); err == nil {
		t.Error("mismatched op admitted to an open round")
	}
	if _, err := table.submit(key, 2, nil, 0, true); err == nil {
		t.Error("barrier admitted to an open reduction round")
	}
}

func TestBarrier_KeyReusableAfterCompletion(t *testing.T) {
	ctx := context.Background()
	table := New(2)
	key := Key{Group: "cpu", Seq: 9}

	for round := 0; round < 2; round++ {
		var g errgroup.Group
		for rank := 0; rank < 2; rank++ {
			rank := rank
			g.Go(func() error { return table.Barrier(ctx, key, rank) })
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("round %d failed: %v", round, err)
		}
	}
}
