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
)

// Element constrains the Go types a Tensor can hold.
type Element interface {
	bool | uint8 | int32 | int64 | float32 | float64
}

// Number is Element without bool. Arithmetic kernels require it; boolean
// buffers are promoted to uint8 before any arithmetic.
type Number interface {
	uint8 | int32 | int64 | float32 | float64
}

// Tensor is a dense buffer of NumElements() elements of one DType.
//
// The backing storage is a typed Go slice. Tensors sharing storage (via
// Reshape) observe each other's element writes.
type Tensor struct {
	dtype  DType
	device Device
	shape  Shape
	data   any // one of []bool, []uint8, []int32, []int64, []float32, []float64
}

func dtypeOf[T Element]() DType {
	var z T
	switch any(z).(type) {
	case bool:
		return Bool
	case uint8:
		return Uint8
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	}
	panic("unreachable")
}

// FromSlice wraps data as a Tensor of the given shape without copying.
func FromSlice[T Element](device Device, shape Shape, data []T) (*Tensor, error) {
	if got, want := len(data), shape.NumElements(); got != want {
		return nil, errors.Errorf("tensors: %d elements for shape %v (want %d)", got, shape, want)
	}
	return &Tensor{dtype: dtypeOf[T](), device: device, shape: shape.Clone(), data: data}, nil
}

// New1D wraps data as a rank-1 Tensor without copying.
func New1D[T Element](device Device, data []T) *Tensor {
	t, _ := FromSlice(device, Shape{len(data)}, data)
	return t
}

// Zeros allocates a zero-filled Tensor.
func Zeros(dtype DType, device Device, shape Shape) *Tensor {
	n := shape.NumElements()
	t := &Tensor{dtype: dtype, device: device, shape: shape.Clone()}
	switch dtype {
	case Bool:
		t.data = make([]bool, n)
	case Uint8:
		t.data = make([]uint8, n)
	case Int32:
		t.data = make([]int32, n)
	case Int64:
		t.data = make([]int64, n)
	case Float32:
		t.data = make([]float32, n)
	case Float64:
		t.data = make([]float64, n)
	default:
		panic(fmt.Sprintf("tensors: Zeros of %v", dtype))
	}
	return t
}

// Data returns the backing slice of t. It panics if T doesn't match the
// tensor's dtype; that is a programming error, not an input condition.
func Data[T Element](t *Tensor) []T {
	d, ok := t.data.([]T)
	if !ok {
		panic(fmt.Sprintf("tensors: Data[%v] on %v tensor", dtypeOf[T](), t.dtype))
	}
	return d
}

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Device returns the device class tag.
func (t *Tensor) Device() Device { return t.device }

// Shape returns the tensor's shape. Callers must not mutate it.
func (t *Tensor) Shape() Shape { return t.shape }

// NumElements returns the total element count.
func (t *Tensor) NumElements() int { return t.shape.NumElements() }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := Zeros(t.dtype, t.device, t.shape)
	copyData(out, t)
	return out
}

// Reshape returns a view of the same storage under a new shape. The element
// count must be conserved.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if got, want := shape.NumElements(), t.NumElements(); got != want {
		return nil, errors.Errorf("tensors: reshape %v to %v changes element count %d -> %d",
			t.shape, shape, want, got)
	}
	return &Tensor{dtype: t.dtype, device: t.device, shape: shape.Clone(), data: t.data}, nil
}

// Flat returns a rank-1 view of the same storage.
func (t *Tensor) Flat() *Tensor {
	v, _ := t.Reshape(Shape{t.NumElements()})
	return v
}

// Equal reports exact equality of dtype, device, shape and every element.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.dtype != o.dtype || t.device != o.device || !t.shape.Equal(o.shape) {
		return false
	}
	return equalData(t, o)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(%v%v@%v)", t.dtype, t.shape, t.device)
}

// Concat concatenates rank-normalized tensors into one rank-1 buffer. All
// parts must share a dtype and a device: a dtype bucket maps to a single
// collective call, which routes to a single group.
func Concat(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensors: Concat of no tensors")
	}
	total := 0
	for _, p := range parts {
		if p.dtype != parts[0].dtype {
			return nil, errors.Errorf("tensors: Concat mixes %v and %v", parts[0].dtype, p.dtype)
		}
		if p.device != parts[0].device {
			return nil, errors.Errorf("tensors: Concat mixes devices %v and %v", parts[0].device, p.device)
		}
		total += p.NumElements()
	}
	out := Zeros(parts[0].dtype, parts[0].device, Shape{total})
	off := 0
	for _, p := range parts {
		if err := CopyRange(out, off, p); err != nil {
			return nil, err
		}
		off += p.NumElements()
	}
	return out, nil
}
