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

import "github.com/pkg/errors"

// Every error below is fatal to the distributed job: a local retry without
// re-synchronizing every peer would desynchronize subsequent collective
// calls. Callers should tear the job down rather than recover.
var (
	// ErrUnsupportedType reports a container node that is not a Leaf, Map
	// or Seq, or a Leaf holding no tensor.
	ErrUnsupportedType = errors.New("unsupported container node")

	// ErrUnknownReduceOp reports a reduction op name outside
	// sum|mean|min|max|product.
	ErrUnknownReduceOp = errors.New("unknown reduction op")

	// ErrGroupNotInitialized reports a collective issued for a device class
	// whose communication group was never configured.
	ErrGroupNotInitialized = errors.New("communication group not initialized")

	// ErrMissingArtifact reports that a gated computation's artifact did
	// not exist after the barrier.
	ErrMissingArtifact = errors.New("gated artifact missing after barrier")

	// ErrOffsetOverflow reports a concatenation write or rebuild read past
	// the end of an allocated buffer. It signals a traversal-order mismatch
	// between the flatten walk and the stacked size table.
	ErrOffsetOverflow = errors.New("offset past end of collective buffer")

	// ErrShapeMismatch reports workers contributing buffers of differing
	// length or dtype to a collective that requires identical shapes.
	ErrShapeMismatch = errors.New("buffer shapes differ across workers")
)
