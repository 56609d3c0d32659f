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

package rendezvous

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"bramble.dev/collective/tensors"
)

// The service has exactly one message shape in each direction, so frames
// travel as a gob payload inside a BytesValue and ride gRPC's stock proto
// codec. A generated schema would buy nothing here.

type frameKind uint8

const (
	frameReduce frameKind = iota
	frameBarrier
)

// frame is one rank's arrival at one round.
type frame struct {
	Kind  frameKind
	Group string
	Seq   uint64
	Rank  int

	// Reduce frames only.
	Op     tensors.ReduceOp
	Dtype  tensors.DType
	Device tensors.Device
	Count  int
	Data   []byte
}

// frameResult carries the combined buffer back. Barrier results are empty.
type frameResult struct {
	Dtype tensors.DType
	Count int
	Data  []byte
}

func encodeFrame(f *frame) (*wrapperspb.BytesValue, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return wrapperspb.Bytes(buf.Bytes()), nil
}

func decodeFrame(v *wrapperspb.BytesValue) (*frame, error) {
	var f frame
	if err := gob.NewDecoder(bytes.NewReader(v.GetValue())).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	return &f, nil
}

func encodeResult(r *frameResult) (*wrapperspb.BytesValue, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, errors.Wrap(err, "encode result")
	}
	return wrapperspb.Bytes(buf.Bytes()), nil
}

func decodeResult(v *wrapperspb.BytesValue) (*frameResult, error) {
	var r frameResult
	if err := gob.NewDecoder(bytes.NewReader(v.GetValue())).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode result")
	}
	return &r, nil
}

func frameForTensor(kind frameKind, group string, seq uint64, rank int, t *tensors.Tensor, op tensors.ReduceOp) *frame {
	f := &frame{Kind: kind, Group: group, Seq: seq, Rank: rank}
	if t != nil {
		f.Op = op
		f.Dtype = t.DType()
		f.Device = t.Device()
		f.Count = t.NumElements()
		f.Data = t.Bytes()
	}
	return f
}

func (f *frame) tensor() (*tensors.Tensor, error) {
	return tensors.FromBytes(f.Dtype, f.Device, tensors.Shape{f.Count}, f.Data)
}

func (r *frameResult) tensor(device tensors.Device) (*tensors.Tensor, error) {
	return tensors.FromBytes(r.Dtype, device, tensors.Shape{r.Count}, r.Data)
}
