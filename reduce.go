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

// parseReduceOp maps an op name onto the backend op, splitting mean into
// sum plus a post-division by the world size.
func parseReduceOp(op string) (rop tensors.ReduceOp, isMean bool, err error) {
	switch op {
	case "sum":
		return tensors.OpSum, false, nil
	case "mean":
		return tensors.OpSum, true, nil
	case "min":
		return tensors.OpMin, false, nil
	case "max":
		return tensors.OpMax, false, nil
	case "product":
		return tensors.OpProd, false, nil
	}
	return 0, false, errors.Wrapf(ErrUnknownReduceOp, "%q", op)
}

// Reduce combines every leaf of obj elementwise across all workers,
// preserving shapes. op is one of sum, mean, min, max or product. Mean on
// integer dtypes truncates.
//
// With To(dst), only rank dst receives the combined container; every other
// worker gets a container of the right shape with undefined leaf contents.
//
// All workers must call Reduce with containers of identical structure and
// leaf shapes; a shape divergence fails with ErrShapeMismatch.
func (c *Communicator) Reduce(ctx context.Context, obj Container, op string, opts ...Options) (Container, error) {
	opt := joinOptions(opts)
	rop, isMean, err := parseReduceOp(op)
	if err != nil {
		return nil, err
	}

	values, _, err := flatten(obj)
	if err != nil {
		return nil, err
	}
	buffers, err := concatBuckets(values)
	if err != nil {
		return nil, err
	}

	repl := make(map[tensors.DType]*replacement, len(buffers))
	for _, dt := range tensors.DTypes() {
		buf, ok := buffers[dt]
		if !ok {
			continue
		}
		// Reduction backends can't fold booleans; ship them as bytes.
		wire := tensors.BoolToByte(buf)
		g, err := c.groupFor(wire.Device())
		if err != nil {
			return nil, err
		}
		if err := c.exchange(ctx, wire, rop, opt.Dst, g); err != nil {
			return nil, errors.Wrapf(err, "reduce %v bucket", dt)
		}
		if isMean {
			if err := tensors.DivScalar(wire, c.WorldSize()); err != nil {
				return nil, err
			}
		}
		if dt == tensors.Bool {
			wire = tensors.ByteToBool(wire)
		}
		repl[dt] = &replacement{buf: wire, rows: 1}
	}

	c.log.Debug("reduce", slog.String("op", op), slog.Int("buckets", len(buffers)))
	return unflatten(obj, repl, nil)
}
