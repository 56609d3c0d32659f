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

package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerLine(t *testing.T) {
	var out strings.Builder
	l := slog.New(New(&out, nil))

	l.Info("round done", slog.String("op", "sum"), slog.Int("elements", 12))

	got := out.String()
	for _, want := range []string{"INFO", "round done", "op=sum", "elements=12"} {
		if !strings.Contains(got, want) {
			t.Errorf("line %q missing %q", got, want)
		}
	}
}

func TestHandlerGroups(t *testing.T) {
	var out strings.Builder
	l := slog.New(New(&out, nil)).WithGroup("comm").With(slog.String("id", "abc123"))

	l.Warn("slow barrier", slog.Group("timing", slog.Int("ms", 950)))

	got := out.String()
	for _, want := range []string{"comm.id=abc123", "comm.timing.ms=950"} {
		if !strings.Contains(got, want) {
			t.Errorf("line %q missing %q", got, want)
		}
	}
}

func TestHandlerLevel(t *testing.T) {
	var out strings.Builder
	l := slog.New(New(&out, &Options{Level: slog.LevelWarn}))

	l.Info("chatty")
	if out.Len() != 0 {
		t.Errorf("info record logged below the warn floor: %q", out.String())
	}
	l.Warn("kept")
	if !strings.Contains(out.String(), "kept") {
		t.Errorf("warn record dropped: %q", out.String())
	}
}

func TestWorkerStampsRank(t *testing.T) {
	var out strings.Builder
	l := Worker(slog.New(New(&out, nil)), 2, 4)

	l.Info("hello")

	got := out.String()
	for _, want := range []string{"rank=2", "world_size=4"} {
		if !strings.Contains(got, want) {
			t.Errorf("line %q missing %q", got, want)
		}
	}
}
