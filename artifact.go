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
	"github.com/go-json-experiment/json"
	"github.com/pkg/errors"

	"bramble.dev/collective/tensors"
)

// Gated artifacts persist containers as a JSON envelope: structure as
// nested nodes, buffers as little-endian bytes (base64 on the wire).

type artifactNode struct {
	Kind string `json:"kind"`

	Map map[string]*artifactNode `json:"map,omitempty"`
	Seq []*artifactNode          `json:"seq,omitempty"`

	Dtype  string `json:"dtype,omitempty"`
	Device string `json:"device,omitempty"`
	Shape  []int  `json:"shape,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

const (
	kindLeaf = "leaf"
	kindMap  = "map"
	kindSeq  = "seq"
)

func marshalContainer(obj Container) ([]byte, error) {
	node, err := toArtifactNode(obj)
	if err != nil {
		return nil, err
	}
	return json.Marshal(node)
}

func unmarshalContainer(data []byte) (Container, error) {
	var node artifactNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, errors.Wrap(err, "decode artifact")
	}
	return fromArtifactNode(&node)
}

func toArtifactNode(obj Container) (*artifactNode, error) {
	switch o := obj.(type) {
	case Leaf:
		if o.Tensor == nil {
			return nil, errors.Wrap(ErrUnsupportedType, "leaf holds no tensor")
		}
		t := o.Tensor
		return &artifactNode{
			Kind:   kindLeaf,
			Dtype:  t.DType().String(),
			Device: t.Device().String(),
			Shape:  t.Shape(),
			Data:   t.Bytes(),
		}, nil
	case Map:
		out := &artifactNode{Kind: kindMap, Map: make(map[string]*artifactNode, len(o))}
		for _, k := range sortedKeys(o) {
			child, err := toArtifactNode(o[k])
			if err != nil {
				return nil, err
			}
			out.Map[k] = child
		}
		return out, nil
	case Seq:
		out := &artifactNode{Kind: kindSeq, Seq: make([]*artifactNode, len(o))}
		for i, v := range o {
			child, err := toArtifactNode(v)
			if err != nil {
				return nil, err
			}
			out.Seq[i] = child
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedType, "%T", obj)
}

func fromArtifactNode(node *artifactNode) (Container, error) {
	switch node.Kind {
	case kindLeaf:
		dtype, err := tensors.ParseDType(node.Dtype)
		if err != nil {
			return nil, err
		}
		device, err := tensors.ParseDevice(node.Device)
		if err != nil {
			return nil, err
		}
		t, err := tensors.FromBytes(dtype, device, node.Shape, node.Data)
		if err != nil {
			return nil, err
		}
		return Leaf{Tensor: t}, nil
	case kindMap:
		out := make(Map, len(node.Map))
		for k, child := range node.Map {
			v, err := fromArtifactNode(child)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case kindSeq:
		out := make(Seq, len(node.Seq))
		for i, child := range node.Seq {
			v, err := fromArtifactNode(child)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedType, "artifact node kind %q", node.Kind)
}
