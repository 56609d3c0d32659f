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

package tensors

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// ReduceOp is an elementwise combination a backend applies across workers.
// Mean is not a backend op: callers sum and divide by the world size.
type ReduceOp uint8

const (
	OpSum ReduceOp = iota
	OpProd
	OpMin
	OpMax
)

func (op ReduceOp) String() string {
	switch op {
	case OpSum:
		return "sum"
	case OpProd:
		return "product"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Combine folds src into dst elementwise: dst[i] = op(dst[i], src[i]).
// Both tensors must have the same dtype and element count. Boolean buffers
// are rejected; promote them to uint8 first.
func Combine(dst, src *Tensor, op ReduceOp) error {
	if dst.dtype != src.dtype {
		return errors.Errorf("tensors: Combine %v with %v", dst.dtype, src.dtype)
	}
	if dst.NumElements() != src.NumElements() {
		return errors.Errorf("tensors: Combine %d elements with %d", dst.NumElements(), src.NumElements())
	}
	switch dst.dtype {
	case Bool:
		return errors.New("tensors: Combine on bool buffer; promote to uint8 first")
	case Uint8:
		combineSlice(Data[uint8](dst), Data[uint8](src), op)
	case Int32:
		combineSlice(Data[int32](dst), Data[int32](src), op)
	case Int64:
		combineSlice(Data[int64](dst), Data[int64](src), op)
	case Float32:
		combineSlice(Data[float32](dst), Data[float32](src), op)
	case Float64:
		combineSlice(Data[float64](dst), Data[float64](src), op)
	default:
		return errors.Errorf("tensors: Combine on %v buffer", dst.dtype)
	}
	return nil
}

func combineSlice[T constraints.Integer | constraints.Float](dst, src []T, op ReduceOp) {
	switch op {
	case OpSum:
		for i, v := range src {
			dst[i] += v
		}
	case OpProd:
		for i, v := range src {
			dst[i] *= v
		}
	case OpMin:
		for i, v := range src {
			if v < dst[i] {
				dst[i] = v
			}
		}
	case OpMax:
		for i, v := range src {
			if v > dst[i] {
				dst[i] = v
			}
		}
	}
}

// DivScalar divides every element by n in place. Integer dtypes truncate.
func DivScalar(t *Tensor, n int) error {
	if n == 0 {
		return errors.New("tensors: DivScalar by zero")
	}
	switch t.dtype {
	case Uint8:
		divSlice(Data[uint8](t), uint8(n))
	case Int32:
		divSlice(Data[int32](t), int32(n))
	case Int64:
		divSlice(Data[int64](t), int64(n))
	case Float32:
		divSlice(Data[float32](t), float32(n))
	case Float64:
		divSlice(Data[float64](t), float64(n))
	default:
		return errors.Errorf("tensors: DivScalar on %v buffer", t.dtype)
	}
	return nil
}

func divSlice[T constraints.Integer | constraints.Float](xs []T, n T) {
	for i := range xs {
		xs[i] /= n
	}
}

// BoolToByte returns a uint8 copy of a bool tensor, 1 for true. Non-bool
// tensors are returned unchanged: callers promote unconditionally before a
// collective and demote after.
func BoolToByte(t *Tensor) *Tensor {
	if t.dtype != Bool {
		return t
	}
	src := Data[bool](t)
	dst := make([]uint8, len(src))
	for i, v := range src {
		if v {
			dst[i] = 1
		}
	}
	out, _ := FromSlice(t.device, t.shape, dst)
	return out
}

// ByteToBool is the inverse of BoolToByte: any nonzero byte becomes true.
func ByteToBool(t *Tensor) *Tensor {
	src := Data[uint8](t)
	dst := make([]bool, len(src))
	for i, v := range src {
		dst[i] = v != 0
	}
	out, _ := FromSlice(t.device, t.shape, dst)
	return out
}

// CopyRange copies all of src into dst starting at element offset off.
// Dtypes must match and src must fit.
func CopyRange(dst *Tensor, off int, src *Tensor) error {
	if dst.dtype != src.dtype {
		return errors.Errorf("tensors: CopyRange %v into %v", src.dtype, dst.dtype)
	}
	if off < 0 || off+src.NumElements() > dst.NumElements() {
		return errors.Errorf("tensors: CopyRange [%d:%d) outside buffer of %d",
			off, off+src.NumElements(), dst.NumElements())
	}
	switch dst.dtype {
	case Bool:
		copy(Data[bool](dst)[off:], Data[bool](src))
	case Uint8:
		copy(Data[uint8](dst)[off:], Data[uint8](src))
	case Int32:
		copy(Data[int32](dst)[off:], Data[int32](src))
	case Int64:
		copy(Data[int64](dst)[off:], Data[int64](src))
	case Float32:
		copy(Data[float32](dst)[off:], Data[float32](src))
	case Float64:
		copy(Data[float64](dst)[off:], Data[float64](src))
	}
	return nil
}

// Gather reads n elements starting at column off out of each of rows
// contiguous rows of rowLen elements, returning one rank-1 tensor of
// rows*n elements. With rows=1 it is a plain subslice copy.
func Gather(t *Tensor, rows, rowLen, off, n int) (*Tensor, error) {
	if rows*rowLen != t.NumElements() {
		return nil, errors.Errorf("tensors: Gather rows %d x %d over %d elements", rows, rowLen, t.NumElements())
	}
	if off < 0 || n < 0 || off+n > rowLen {
		return nil, errors.Errorf("tensors: Gather columns [%d:%d) outside row of %d", off, off+n, rowLen)
	}
	out := Zeros(t.dtype, t.device, Shape{rows * n})
	for r := 0; r < rows; r++ {
		row, err := slice(t, r*rowLen+off, n)
		if err != nil {
			return nil, err
		}
		if err := CopyRange(out, r*n, row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// slice returns a no-copy rank-1 view of n elements starting at off.
func slice(t *Tensor, off, n int) (*Tensor, error) {
	if off < 0 || n < 0 || off+n > t.NumElements() {
		return nil, errors.Errorf("tensors: slice [%d:%d) outside buffer of %d", off, off+n, t.NumElements())
	}
	view := &Tensor{dtype: t.dtype, device: t.device, shape: Shape{n}}
	switch t.dtype {
	case Bool:
		view.data = Data[bool](t)[off : off+n]
	case Uint8:
		view.data = Data[uint8](t)[off : off+n]
	case Int32:
		view.data = Data[int32](t)[off : off+n]
	case Int64:
		view.data = Data[int64](t)[off : off+n]
	case Float32:
		view.data = Data[float32](t)[off : off+n]
	case Float64:
		view.data = Data[float64](t)[off : off+n]
	}
	return view, nil
}

func copyData(dst, src *Tensor) {
	// Sizes and dtypes are validated by the callers constructing dst.
	_ = CopyRange(dst, 0, src)
}

func equalData(a, b *Tensor) bool {
	switch a.dtype {
	case Bool:
		return equalSlice(Data[bool](a), Data[bool](b))
	case Uint8:
		return equalSlice(Data[uint8](a), Data[uint8](b))
	case Int32:
		return equalSlice(Data[int32](a), Data[int32](b))
	case Int64:
		return equalSlice(Data[int64](a), Data[int64](b))
	case Float32:
		return equalSlice(Data[float32](a), Data[float32](b))
	case Float64:
		return equalSlice(Data[float64](a), Data[float64](b))
	}
	return false
}

func equalSlice[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
