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
	"context"
	"log/slog"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"bramble.dev/collective"
	"bramble.dev/collective/internal/rounds"
)

const collectMethod = "/collective.v1.Rendezvous/Collect"

// Server hosts the round table for one job. Exactly one server runs per
// job, conventionally on the rank 0 host, and every worker's Backend
// connects to it. Collect calls block server side until all ranks arrive,
// so the server must be able to hold world concurrent RPCs; gRPC's default
// stream limits are well above any sane world size.
type Server struct {
	table *rounds.Table
	grpc  *grpc.Server
	log   *slog.Logger
}

// NewServer returns a server for a world of the given size.
func NewServer(world int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		table: rounds.New(world),
		grpc:  grpc.NewServer(),
		log:   logger.With(slog.Int("world_size", world)),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Serve accepts worker connections on lis until Stop. It blocks, like
// grpc.Server.Serve.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("rendezvous serving", slog.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop tears the server down. In-flight rounds fail with a transport
// error on the worker side.
func (s *Server) Stop() {
	s.grpc.Stop()
}

// collect is the single RPC: one rank's arrival in, the round result out.
func (s *Server) collect(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	f, err := decodeFrame(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	key := rounds.Key{Group: f.Group, Seq: f.Seq}
	switch f.Kind {
	case frameBarrier:
		if err := s.table.Barrier(ctx, key, f.Rank); err != nil {
			return nil, toStatus(err)
		}
		return encodeResult(&frameResult{})
	case frameReduce:
		buf, err := f.tensor()
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		res, err := s.table.Reduce(ctx, key, f.Rank, buf, f.Op)
		if err != nil {
			return nil, toStatus(err)
		}
		return encodeResult(&frameResult{Dtype: res.DType(), Count: res.NumElements(), Data: res.Bytes()})
	}
	return nil, status.Errorf(codes.InvalidArgument, "unknown frame kind %d", f.Kind)
}

// toStatus maps table errors onto gRPC codes so the worker side can map
// them back to the package sentinels.
func toStatus(err error) error {
	switch {
	case errors.Is(err, collective.ErrShapeMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// The service carries opaque byte frames, so the descriptor is written by
// hand rather than generated from a schema.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "collective.v1.Rendezvous",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Collect",
			Handler:    collectHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "collective/v1/rendezvous",
}

func collectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.collect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: collectMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.collect(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}
