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

// Package tensors provides the element buffers that collective operations
// move between workers.
//
// A Tensor is a dense, contiguous buffer of one element type (DType) with a
// shape and a device class tag. Buffers are host memory either way; the
// Device tag only routes a buffer to the matching communication group.
package tensors

import (
	"fmt"
	"strings"
)

// DType is the element type of a Tensor.
type DType uint8

const (
	InvalidDType DType = iota
	Bool
	Uint8
	Int32
	Int64
	Float32
	Float64
)

// numDTypes bounds the valid DType values, InvalidDType excluded.
const numDTypes = 6

// DTypes returns every valid element type in canonical bucket order.
// Collective operations issue one backend call per dtype bucket in exactly
// this order on every worker, which is what keeps call sequences matched
// across the job.
func DTypes() []DType {
	return []DType{Bool, Uint8, Int32, Int64, Float32, Float64}
}

func (d DType) String() string {
	switch d {
	case Bool:
		return "bool"
	case Uint8:
		return "uint8"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("invalid(%d)", uint8(d))
}

// Size returns the width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Bool, Uint8:
		return 1
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

// Valid reports whether d names a supported element type.
func (d DType) Valid() bool {
	return d >= Bool && d <= Float64
}

// ParseDType is the inverse of DType.String.
func ParseDType(s string) (DType, error) {
	for _, d := range DTypes() {
		if d.String() == s {
			return d, nil
		}
	}
	return InvalidDType, fmt.Errorf("tensors: unknown dtype %q", s)
}

// Device is the class of memory a buffer lives in. Workers hold one
// communication group per device class.
type Device uint8

const (
	// CPU is general host memory.
	CPU Device = iota
	// Accel marks buffers owned by an accelerator.
	Accel
)

func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	case Accel:
		return "accel"
	}
	return fmt.Sprintf("device(%d)", uint8(d))
}

// ParseDevice is the inverse of Device.String.
func ParseDevice(s string) (Device, error) {
	switch s {
	case "cpu":
		return CPU, nil
	case "accel":
		return Accel, nil
	}
	return CPU, fmt.Errorf("tensors: unknown device %q", s)
}

// Shape is the ordered dimension sizes of a Tensor. A nil or empty Shape is
// a scalar.
type Shape []int

// NumElements returns the product of the dimensions, 1 for a scalar.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Rank returns the number of axes.
func (s Shape) Rank() int { return len(s) }

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both shapes have identical rank and dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	dims := make([]string, len(s))
	for i, d := range s {
		dims[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(dims, " ") + "]"
}
