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

// Package logging provides the slog handler worker processes log through:
// one line per record, attrs qualified by their open groups, suitable for
// interleaved multi-rank output on a shared terminal.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jba/slog/withsupport"
)

// Options configures a Handler.
type Options struct {
	// Level reports the minimum record level that will be logged.
	// The handler calls Level.Level for each record processed;
	// to adjust the minimum level dynamically, use a LevelVar.
	Level slog.Leveler
}

// Handler formats records as single text lines on an io.Writer.
type Handler struct {
	opts Options
	goa  *withsupport.GroupOrAttrs

	mu *sync.Mutex
	w  io.Writer
}

var _ slog.Handler = (*Handler)(nil)

// New returns a Handler writing to w.
func New(w io.Writer, opts *Options) *Handler {
	h := &Handler{w: w, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.goa = h.goa.WithGroup(name)
	return &h2
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.goa = h.goa.WithAttrs(attrs)
	return &h2
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	if !r.Time.IsZero() {
		sb.WriteString(r.Time.Format(time.RFC3339))
		sb.WriteByte(' ')
	}
	sb.WriteString(r.Level.String())
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	groups := h.goa.Apply(func(groups []string, a slog.Attr) {
		appendAttr(&sb, groups, a)
	})
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&sb, groups, a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func appendAttr(sb *strings.Builder, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			groups = append(groups, a.Key)
		}
		for _, ga := range a.Value.Group() {
			appendAttr(sb, groups, ga)
		}
		return
	}
	sb.WriteByte(' ')
	if len(groups) > 0 {
		sb.WriteString(strings.Join(groups, "."))
		sb.WriteByte('.')
	}
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	fmt.Fprintf(sb, "%v", a.Value.Any())
}

// Worker returns a logger stamped with a worker's place in the job. Every
// line a worker emits carries its rank, so interleaved output from a whole
// world stays attributable.
func Worker(l *slog.Logger, rank, world int) *slog.Logger {
	return l.With(slog.Int("rank", rank), slog.Int("world_size", world))
}
