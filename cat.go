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

// Cat concatenates every leaf of obj across all workers along its leading
// axis. Leaves are matched by traversal position, not by rank, and each
// worker may contribute a different leading-dimension length per leaf --
// including zero. This is the merge operation for unevenly sharded data.
//
// Before any data moves, every worker must learn how many elements every
// other worker contributes at every leaf position. Cat gets that by
// stacking the local size table itself: sizes are small integer tensors, so
// the container machinery applies recursively, and the stacked result is a
// (world_size x leaf_count) matrix per dtype known identically everywhere.
// Only then can each worker place its slices into the shared buffer.
func (c *Communicator) Cat(ctx context.Context, obj Container, opts ...Options) (Container, error) {
	opt := joinOptions(opts)

	values, sizes, err := flatten(obj)
	if err != nil {
		return nil, err
	}

	// Stack the size table. Always an all-reduce: the offset arithmetic
	// below needs the full matrix on every worker even for a directed Cat.
	sizeObj := make(Map, len(sizes))
	for _, dt := range tensors.DTypes() {
		counts, ok := sizes[dt]
		if !ok {
			continue
		}
		data := make([]int64, len(counts))
		for i, n := range counts {
			data[i] = int64(n)
		}
		sizeObj[dt.String()] = LeafOf(tensors.New1D(values[dt][0].Device(), data))
	}
	stackedObj, err := c.Stack(ctx, sizeObj)
	if err != nil {
		return nil, errors.Wrap(err, "stack size table")
	}
	stacked := stackedObj.(Map)

	ws := c.WorldSize()
	rank := c.Rank()
	repl := make(map[tensors.DType]*replacement, len(values))
	learned := make(map[tensors.DType]*sizeQueue, len(values))
	for _, dt := range tensors.DTypes() {
		parts, ok := values[dt]
		if !ok {
			continue
		}
		// sizeMat is rank-major: entry r*nLeaves+i is worker r's element
		// count at leaf position i.
		sizeMat := tensors.Data[int64](stacked[dt.String()].(Leaf).Tensor)
		nLeaves := len(parts)

		total := 0
		for _, n := range sizeMat {
			total += int(n)
		}
		columns := make([]int, nLeaves)
		for i := range columns {
			for r := 0; r < ws; r++ {
				columns[i] += int(sizeMat[r*nLeaves+i])
			}
		}

		wireDType := dt
		if dt == tensors.Bool {
			wireDType = tensors.Uint8
		}
		wire := tensors.Zeros(wireDType, parts[0].Device(), tensors.Shape{total})

		// Each worker writes only its own slices. Leaf i's block starts
		// after every element any worker contributes at positions < i, and
		// within the block this worker's slice starts after the
		// contributions of lower-ranked workers at the same position.
		base := 0
		for i, part := range parts {
			local := tensors.BoolToByte(part)
			if got, want := local.NumElements(), int(sizeMat[rank*nLeaves+i]); got != want {
				return nil, errors.Wrapf(ErrOffsetOverflow,
					"leaf %d of %v: local buffer holds %d elements, size table recorded %d",
					i, dt, got, want)
			}
			within := 0
			for r := 0; r < rank; r++ {
				within += int(sizeMat[r*nLeaves+i])
			}
			off := base + within
			if off+local.NumElements() > total {
				return nil, errors.Wrapf(ErrOffsetOverflow,
					"leaf %d of %v: write [%d:%d) into %d-element buffer",
					i, dt, off, off+local.NumElements(), total)
			}
			if err := tensors.CopyRange(wire, off, local); err != nil {
				return nil, err
			}
			base += columns[i]
		}

		g, err := c.groupFor(wire.Device())
		if err != nil {
			return nil, err
		}
		if err := c.exchange(ctx, wire, tensors.OpSum, opt.Dst, g); err != nil {
			return nil, errors.Wrapf(err, "cat %v bucket", dt)
		}
		if dt == tensors.Bool {
			wire = tensors.ByteToBool(wire)
		}
		repl[dt] = &replacement{buf: wire, rows: 1}
		learned[dt] = &sizeQueue{entries: columns}
	}

	c.log.Debug("cat", slog.Int("buckets", len(values)))
	return unflatten(obj, repl, learned)
}
