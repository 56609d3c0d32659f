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
	"testing"
)

func TestOptions_Defaults(t *testing.T) {
	opt := joinOptions(nil)
	if opt.Dst >= 0 {
		t.Errorf("no options set, but destination is rank %d", opt.Dst)
	}
	if opt.SkipCache {
		t.Error("no options set, but SkipCache is on")
	}
}

func TestOptions_Join(t *testing.T) {
	l := slog.Default()
	opt := joinOptions([]Options{Name("eval"), To(2), WithLogger(l)})
	if opt.Name != "eval" {
		t.Errorf("got name %q, want %q", opt.Name, "eval")
	}
	if opt.Dst != 2 {
		t.Errorf("got destination %d, want 2", opt.Dst)
	}
	if opt.Logger != l {
		t.Error("logger option not carried through join")
	}
}

func TestOptions_LaterOverridesEarlier(t *testing.T) {
	opt := joinOptions([]Options{Name("first"), Name("second"), To(1), To(3)})
	if opt.Name != "second" {
		t.Errorf("got name %q, want %q", opt.Name, "second")
	}
	if opt.Dst != 3 {
		t.Errorf("got destination %d, want 3", opt.Dst)
	}
}

func TestOptions_ToZeroIsDirected(t *testing.T) {
	opt := joinOptions([]Options{To(0)})
	if opt.Dst != 0 {
		t.Errorf("To(0) produced destination %d", opt.Dst)
	}
}
