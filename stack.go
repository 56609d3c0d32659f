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

	"bramble.dev/collective/tensors"
)

// Stack gathers every leaf of obj from all workers under a new leading axis
// of length WorldSize: slot r of each result leaf holds worker r's value,
// so a leaf of shape S comes back with shape (world_size, S...).
//
// The exchange rides on a plain summing reduction: each worker writes its
// bucket into its own slot of a zero-filled (world_size x bucket) buffer,
// and summing across workers fills every slot because all non-local slots
// are zero.
//
// All workers must present identical structure and leaf shapes; To(dst)
// directs the result to a single rank.
func (c *Communicator) Stack(ctx context.Context, obj Container, opts ...Options) (Container, error) {
	opt := joinOptions(opts)

	values, _, err := flatten(obj)
	if err != nil {
		return nil, err
	}
	buffers, err := concatBuckets(values)
	if err != nil {
		return nil, err
	}

	ws := c.WorldSize()
	rank := c.Rank()
	repl := make(map[tensors.DType]*replacement, len(buffers))
	for _, dt := range tensors.DTypes() {
		buf, ok := buffers[dt]
		if !ok {
			continue
		}
		local := tensors.BoolToByte(buf)
		n := local.NumElements()
		wire := tensors.Zeros(local.DType(), local.Device(), tensors.Shape{ws * n})
		if err := tensors.CopyRange(wire, rank*n, local); err != nil {
			return nil, err
		}
		g, err := c.groupFor(wire.Device())
		if err != nil {
			return nil, err
		}
		if err := c.exchange(ctx, wire, tensors.OpSum, opt.Dst, g); err != nil {
			return nil, errors.Wrapf(err, "stack %v bucket", dt)
		}
		if dt == tensors.Bool {
			wire = tensors.ByteToBool(wire)
		}
		repl[dt] = &replacement{buf: wire, rows: ws}
	}

	c.log.Debug("stack", slog.Int("buckets", len(buffers)))
	return unflatten(obj, repl, nil)
}
