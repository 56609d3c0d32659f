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
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"gocloud.dev/blob/memblob"

	"bramble.dev/collective"
	"bramble.dev/collective/backends/loopback"
	"bramble.dev/collective/tensors"
)

func TestGated_ComputesOnceSharesWithAll(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	var calls atomic.Int32
	runWorld(t, 4, func(rank int, c *collective.Communicator) error {
		got, err := c.Gated(ctx, bucket, "vocab", func(context.Context) (collective.Container, error) {
			calls.Add(1)
			return collective.Map{
				"tokens": collective.LeafOf(tensors.New1D(tensors.CPU, []int64{5, 7, 11})),
			}, nil
		})
		if err != nil {
			return err
		}
		m := got.(collective.Map)
		if d := cmp.Diff([]int64{5, 7, 11}, leafData[int64](m["tokens"])); d != "" {
			return errors.Errorf("rank %d: (-want, +got)\n%v", rank, d)
		}
		return nil
	})
	if got := calls.Load(); got != 1 {
		t.Errorf("compute ran %d times across a world of 4, want once", got)
	}
}

func TestGated_ServesCachedArtifact(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	w := loopback.NewWorld(1)
	c := collective.New(w.Backend(0))

	first, err := c.Gated(ctx, bucket, "stats", func(context.Context) (collective.Container, error) {
		return collective.LeafOf(tensors.New1D(tensors.CPU, []float64{42})), nil
	})
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	// The second call must serve the artifact without running compute.
	second, err := c.Gated(ctx, bucket, "stats", func(context.Context) (collective.Container, error) {
		return nil, errors.New("compute ran despite a cached artifact")
	})
	if err != nil {
		t.Fatalf("cached call failed: %v", err)
	}
	if !collective.Equal(first, second) {
		t.Errorf("cached artifact differs: first %+v, second %+v", first, second)
	}
}

func TestGated_SkipCacheRecomputes(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	w := loopback.NewWorld(1)
	c := collective.New(w.Backend(0))

	for want := int64(1); want <= 2; want++ {
		got, err := c.Gated(ctx, bucket, "epoch", func(context.Context) (collective.Container, error) {
			return collective.LeafOf(tensors.New1D(tensors.CPU, []int64{want})), nil
		}, collective.SkipCache())
		if err != nil {
			t.Fatalf("call %d failed: %v", want, err)
		}
		if d := cmp.Diff([]int64{want}, leafData[int64](got)); d != "" {
			t.Errorf("call %d: (-want, +got)\n%v", want, d)
		}
	}
}

func TestGated_ComputeFailure(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	boom := errors.New("no artifact today")
	w := loopback.NewWorld(2)
	err := loopback.Spawn(w, func(rank int, b *loopback.Backend) error {
		c := collective.New(b)
		_, err := c.Gated(ctx, bucket, "broken", func(context.Context) (collective.Container, error) {
			return nil, boom
		})
		switch rank {
		case 0:
			if !errors.Is(err, boom) {
				return errors.Errorf("coordinator got %v, want the compute error", err)
			}
		default:
			// Peers pass the barrier and find nothing persisted; they must
			// fail rather than hang.
			if !errors.Is(err, collective.ErrMissingArtifact) {
				return errors.Errorf("rank %d got %v, want ErrMissingArtifact", rank, err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
