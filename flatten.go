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
	"github.com/pkg/errors"

	"bramble.dev/collective/tensors"
)

// flatten.go holds the container walker and rebuilder. The one invariant
// everything else rests on: the rebuilder consumes replacement elements in
// exactly the order the walker appended them. A divergence does not fail,
// it silently hands one leaf's data to another, so both directions share
// the single walk function below.

// walk visits every leaf depth-first: map nodes in sorted key order, seq
// nodes in index order.
func walk(obj Container, visit func(*tensors.Tensor) error) error {
	switch o := obj.(type) {
	case Leaf:
		if o.Tensor == nil {
			return errors.Wrap(ErrUnsupportedType, "leaf holds no tensor")
		}
		return visit(o.Tensor)
	case Map:
		for _, k := range sortedKeys(o) {
			if err := walk(o[k], visit); err != nil {
				return err
			}
		}
		return nil
	case Seq:
		for _, v := range o {
			if err := walk(v, visit); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Wrapf(ErrUnsupportedType, "%T", obj)
}

// flatten splits a container into its per-dtype leaf buffers and the
// parallel per-leaf element counts, both in traversal order.
func flatten(obj Container) (map[tensors.DType][]*tensors.Tensor, map[tensors.DType][]int, error) {
	values := make(map[tensors.DType][]*tensors.Tensor)
	sizes := make(map[tensors.DType][]int)
	err := walk(obj, func(t *tensors.Tensor) error {
		dt := t.DType()
		values[dt] = append(values[dt], t.Flat())
		sizes[dt] = append(sizes[dt], t.NumElements())
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return values, sizes, nil
}

// concatBuckets concatenates each dtype's leaf buffers into one contiguous
// rank-1 buffer, ready for a single collective call per dtype.
func concatBuckets(values map[tensors.DType][]*tensors.Tensor) (map[tensors.DType]*tensors.Tensor, error) {
	buffers := make(map[tensors.DType]*tensors.Tensor, len(values))
	for _, dt := range tensors.DTypes() {
		parts, ok := values[dt]
		if !ok {
			continue
		}
		buf, err := tensors.Concat(parts)
		if err != nil {
			return nil, errors.Wrapf(err, "%v bucket", dt)
		}
		buffers[dt] = buf
	}
	return buffers, nil
}

// replacement is one dtype's post-collective buffer, consumed front to back
// during the rebuild. rows > 1 means the buffer holds that many contiguous
// per-worker rows (Stack) and each leaf takes its span from every row.
type replacement struct {
	buf  *tensors.Tensor
	rows int
	off  int // column offset consumed so far, per row
}

func (r *replacement) consume(n int) (*tensors.Tensor, error) {
	rowLen := r.buf.NumElements() / r.rows
	if r.off+n > rowLen {
		return nil, errors.Wrapf(ErrOffsetOverflow,
			"rebuild consumes [%d:%d) of a %d-element row", r.off, r.off+n, rowLen)
	}
	out, err := tensors.Gather(r.buf, r.rows, rowLen, r.off, n)
	if err != nil {
		return nil, err
	}
	r.off += n
	return out, nil
}

// sizeQueue is one dtype's learned per-leaf element counts, popped in
// traversal order.
type sizeQueue struct {
	entries []int
	next    int
}

func (q *sizeQueue) pop() (int, error) {
	if q.next >= len(q.entries) {
		return 0, errors.Wrapf(ErrOffsetOverflow, "size table exhausted after %d leaves", q.next)
	}
	n := q.entries[q.next]
	q.next++
	return n, nil
}

// unflatten rebuilds a container of obj's shape from the replacement
// buffers. With sizes == nil each leaf consumes its original element count:
// unchanged shape for single-row buffers, or a new leading world axis for
// stacked ones. With a size table each leaf consumes the learned count and
// re-derives its leading dimension from the original trailing shape.
func unflatten(obj Container, repl map[tensors.DType]*replacement, sizes map[tensors.DType]*sizeQueue) (Container, error) {
	switch o := obj.(type) {
	case Leaf:
		if o.Tensor == nil {
			return nil, errors.Wrap(ErrUnsupportedType, "leaf holds no tensor")
		}
		return rebuildLeaf(o, repl, sizes)
	case Map:
		out := make(Map, len(o))
		for _, k := range sortedKeys(o) {
			v, err := unflatten(o[k], repl, sizes)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case Seq:
		out := make(Seq, len(o))
		for i, v := range o {
			nv, err := unflatten(v, repl, sizes)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedType, "%T", obj)
}

func rebuildLeaf(o Leaf, repl map[tensors.DType]*replacement, sizes map[tensors.DType]*sizeQueue) (Container, error) {
	t := o.Tensor
	r := repl[t.DType()]
	if r == nil {
		return nil, errors.Errorf("no replacement buffer for %v leaf", t.DType())
	}

	var n int
	var shape tensors.Shape
	if sizes == nil {
		n = t.NumElements()
		if r.rows == 1 {
			shape = t.Shape().Clone()
		} else {
			shape = append(tensors.Shape{r.rows}, t.Shape()...)
		}
	} else {
		q := sizes[t.DType()]
		if q == nil {
			return nil, errors.Errorf("no size table for %v leaf", t.DType())
		}
		var err error
		if n, err = q.pop(); err != nil {
			return nil, err
		}
		var trailing tensors.Shape
		if t.Shape().Rank() > 0 {
			trailing = t.Shape()[1:]
		}
		leading := 0
		if tp := trailing.NumElements(); tp > 0 {
			leading = n / tp
		}
		shape = append(tensors.Shape{leading}, trailing...)
	}

	flat, err := r.consume(n)
	if err != nil {
		return nil, err
	}
	out, err := flat.Reshape(shape)
	if err != nil {
		// Learned count not divisible by the trailing shape: the workers
		// disagreed on this leaf's trailing dimensions.
		return nil, errors.Wrapf(ErrShapeMismatch, "%v", err)
	}
	return Leaf{Tensor: out}, nil
}
