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

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"bramble.dev/collective/tensors"
)

// coordinatorRank runs gated computations on behalf of the whole job.
const coordinatorRank = 0

// Gated runs compute on exactly one worker and shares the result with all.
//
// If no artifact is persisted under key (or SkipCache is set), rank 0 runs
// compute and writes the encoded result to the bucket. Every worker then
// blocks on a barrier, after which every worker -- the coordinator included
// -- loads and returns the persisted artifact. The barrier is what makes
// the coordinator's write visible before anyone reads.
//
// All workers must call Gated together with the same key. If the artifact
// still doesn't exist after the barrier the call fails with
// ErrMissingArtifact; on a compute or persist failure the coordinator still
// joins the barrier first, so its peers fail with ErrMissingArtifact
// instead of hanging.
func (c *Communicator) Gated(ctx context.Context, bucket *blob.Bucket, key string, compute func(context.Context) (Container, error), opts ...Options) (Container, error) {
	opt := joinOptions(opts)

	exists, err := bucket.Exists(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "probe artifact %q", key)
	}

	var computeErr error
	switch {
	case exists && !opt.SkipCache:
		c.log.Debug("gated artifact cached", slog.String("key", key))
	case c.Rank() == coordinatorRank:
		computeErr = c.computeAndPersist(ctx, bucket, key, compute)
	}

	g, err := c.groupFor(tensors.CPU)
	if err != nil {
		return nil, err
	}
	if err := c.backend.Barrier(ctx, g); err != nil {
		return nil, errors.Wrap(err, "gated barrier")
	}
	if computeErr != nil {
		return nil, computeErr
	}

	data, err := bucket.ReadAll(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, errors.Wrapf(ErrMissingArtifact, "%q", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read artifact %q", key)
	}
	return unmarshalContainer(data)
}

func (c *Communicator) computeAndPersist(ctx context.Context, bucket *blob.Bucket, key string, compute func(context.Context) (Container, error)) error {
	result, err := compute(ctx)
	if err != nil {
		return errors.Wrapf(err, "gated compute for %q", key)
	}
	data, err := marshalContainer(result)
	if err != nil {
		return errors.Wrapf(err, "encode artifact %q", key)
	}
	if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
		return errors.Wrapf(err, "persist artifact %q", key)
	}
	c.log.Info("persisted gated artifact", slog.String("key", key), slog.Int("bytes", len(data)))
	return nil
}
