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
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Bytes serializes the element buffer as little-endian bytes, element order
// preserved. Shape and dtype travel separately; see FromBytes.
func (t *Tensor) Bytes() []byte {
	n := t.NumElements()
	out := make([]byte, n*t.dtype.Size())
	switch t.dtype {
	case Bool:
		for i, v := range Data[bool](t) {
			if v {
				out[i] = 1
			}
		}
	case Uint8:
		copy(out, Data[uint8](t))
	case Int32:
		for i, v := range Data[int32](t) {
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
	case Int64:
		for i, v := range Data[int64](t) {
			binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
		}
	case Float32:
		for i, v := range Data[float32](t) {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case Float64:
		for i, v := range Data[float64](t) {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
	}
	return out
}

// FromBytes rebuilds a Tensor from the Bytes representation.
func FromBytes(dtype DType, device Device, shape Shape, raw []byte) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, errors.Errorf("tensors: FromBytes of %v", dtype)
	}
	n := shape.NumElements()
	if len(raw) != n*dtype.Size() {
		return nil, errors.Errorf("tensors: %d bytes for %v%v (want %d)",
			len(raw), dtype, shape, n*dtype.Size())
	}
	t := Zeros(dtype, device, shape)
	switch dtype {
	case Bool:
		d := Data[bool](t)
		for i, b := range raw {
			d[i] = b != 0
		}
	case Uint8:
		copy(Data[uint8](t), raw)
	case Int32:
		d := Data[int32](t)
		for i := range d {
			d[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case Int64:
		d := Data[int64](t)
		for i := range d {
			d[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case Float32:
		d := Data[float32](t)
		for i := range d {
			d[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case Float64:
		d := Data[float64](t)
		for i := range d {
			d[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	}
	return t, nil
}
