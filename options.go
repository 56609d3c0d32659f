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
	"log/slog"

	"bramble.dev/collective/internal/commopts"
)

// Options configure New, the collective operations, and Gated.
// Each function takes a variadic list of options, where properties
// set in later options override the value of previously set properties.
type Options = commopts.Options

// Name sets the name of the communicator, typically to make log lines
// easier to attribute.
func Name(name string) Options {
	return &commopts.Struct{
		Name: name,
		Dst:  -1,
	}
}

// To directs the result of a collective to a single destination rank.
// Buffers on every other worker hold undefined content afterwards. Without
// this option results are broadcast to all workers.
func To(rank int) Options {
	return &commopts.Struct{
		Dst: rank,
	}
}

// SkipCache forces a gated computation to run even when a persisted
// artifact already exists.
func SkipCache() Options {
	return &commopts.Struct{
		Dst:       -1,
		SkipCache: true,
	}
}

// WithLogger routes operational logging to l instead of slog.Default.
func WithLogger(l *slog.Logger) Options {
	return &commopts.Struct{
		Dst:    -1,
		Logger: l,
	}
}

// joinOptions folds opts into a fresh Struct with the no-destination
// default.
func joinOptions(opts []Options) commopts.Struct {
	opt := commopts.Struct{Dst: -1}
	opt.Join(opts...)
	return opt
}
