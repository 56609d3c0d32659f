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

// Package collective combines arbitrarily nested containers of tensors
// across a fixed set of cooperating worker processes.
//
// Callers build a [Container] -- any nesting of [Map], [Seq] and [Leaf]
// nodes -- and hand it to one of three operations on a [Communicator]:
//
//   - [Communicator.Reduce] folds every leaf elementwise across workers,
//     preserving shapes.
//   - [Communicator.Stack] gathers every leaf under a new leading axis of
//     length world size.
//   - [Communicator.Cat] concatenates every leaf along its leading axis,
//     tolerating different per-worker lengths; it is the merge operation
//     for unevenly sharded data.
//
// Each operation flattens the container into one contiguous buffer per
// element type, issues a single backend collective per buffer, and rebuilds
// a container of the original structure. Workers therefore pay a fixed
// number of collective calls regardless of how deeply nested the input is.
//
// [Communicator.Gated] runs a computation on one designated worker,
// persists the result to a blob bucket, and hands it to every worker after
// a barrier.
//
// Every worker must invoke the same operations in the same order on
// containers of identical structure, with map keys traversed in sorted
// order; the backend cannot detect a divergence, it can only deadlock or
// silently misassign data. See [Backend] for the full protocol obligation.
//
// Backends live under backends/: loopback runs a whole world in one
// process for tests, rendezvous runs real workers over gRPC.
package collective
