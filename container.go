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
	"sort"

	"bramble.dev/collective/tensors"
)

// Container is a nested structure of tensors: a closed variant over Leaf,
// Map and Seq. Every worker participating in a collective must build a
// container of identical shape; map keys are always traversed in sorted
// order so that the flattened buffers line up across the job.
type Container interface {
	container()
}

// Leaf is a terminal tensor within a container.
type Leaf struct {
	Tensor *tensors.Tensor
}

// Map is an ordered string-keyed mapping of containers. Iteration order is
// canonical: keys sorted lexicographically, independent of insertion.
type Map map[string]Container

// Seq is an ordered list of containers.
type Seq []Container

func (Leaf) container() {}
func (Map) container()  {}
func (Seq) container()  {}

// LeafOf wraps a tensor as a container node.
func LeafOf(t *tensors.Tensor) Leaf { return Leaf{Tensor: t} }

func sortedKeys(m Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether two containers have identical structure and every
// pair of corresponding leaves is exactly equal.
func Equal(a, b Container) bool {
	switch a := a.(type) {
	case Leaf:
		bl, ok := b.(Leaf)
		return ok && a.Tensor.Equal(bl.Tensor)
	case Map:
		bm, ok := b.(Map)
		if !ok || len(a) != len(bm) {
			return false
		}
		for k, v := range a {
			bv, ok := bm[k]
			if !ok || !Equal(v, bv) {
				return false
			}
		}
		return true
	case Seq:
		bs, ok := b.(Seq)
		if !ok || len(a) != len(bs) {
			return false
		}
		for i, v := range a {
			if !Equal(v, bs[i]) {
				return false
			}
		}
		return true
	}
	return a == nil && b == nil
}
