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

// collectived is a worker process for a collective job. Launch one copy
// per rank with the same config; rank 0 additionally hosts the rendezvous
// server. Each worker runs a smoke workload exercising every collective
// and a gated computation, then exits. It doubles as a cluster health
// check: if collectived completes on every rank, the topology is sound.
//
// Configuration comes from a YAML file, with the usual launcher
// environment variables (RANK, WORLD_SIZE, MASTER_ADDR, MASTER_PORT)
// taking precedence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gopkg.in/yaml.v2"

	"bramble.dev/collective"
	"bramble.dev/collective/backends/rendezvous"
	"bramble.dev/collective/internal/logging"
	"bramble.dev/collective/tensors"
)

// Config describes one worker's place in the job.
type Config struct {
	Rank        int    `yaml:"rank"`
	WorldSize   int    `yaml:"world_size"`
	MasterAddr  string `yaml:"master_addr"`
	MasterPort  int    `yaml:"master_port"`
	AccelGroup  bool   `yaml:"accel_group"`
	ArtifactDir string `yaml:"artifact_dir"`
}

func loadConfig(path string) (Config, error) {
	cfg := Config{
		WorldSize:   1,
		MasterAddr:  "localhost",
		MasterPort:  29500,
		ArtifactDir: os.TempDir(),
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %v", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %v", path)
		}
	}
	overrideInt(&cfg.Rank, "RANK")
	overrideInt(&cfg.WorldSize, "WORLD_SIZE")
	overrideInt(&cfg.MasterPort, "MASTER_PORT")
	if v := os.Getenv("MASTER_ADDR"); v != "" {
		cfg.MasterAddr = v
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.WorldSize {
		return cfg, errors.Errorf("rank %d outside world of %d", cfg.Rank, cfg.WorldSize)
	}
	return cfg, nil
}

func overrideInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func main() {
	configPath := flag.String("config", "", "path to the job's YAML config")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(logging.New(os.Stderr, &logging.Options{Level: level}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("bad configuration", slog.Any("error", err))
		os.Exit(1)
	}
	log = logging.Worker(log, cfg.Rank, cfg.WorldSize)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("worker failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("worker done")
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	addr := net.JoinHostPort(cfg.MasterAddr, strconv.Itoa(cfg.MasterPort))

	var srv *rendezvous.Server
	if cfg.Rank == 0 {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "listen %v", addr)
		}
		srv = rendezvous.NewServer(cfg.WorldSize, log)
		go srv.Serve(lis)
		defer srv.Stop()
	}

	backend, err := rendezvous.Dial(rendezvous.Config{
		Rank:       cfg.Rank,
		WorldSize:  cfg.WorldSize,
		Addr:       addr,
		AccelGroup: cfg.AccelGroup,
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	bucket, err := fileblob.OpenBucket(cfg.ArtifactDir, nil)
	if err != nil {
		return errors.Wrapf(err, "open artifact bucket %v", cfg.ArtifactDir)
	}
	defer bucket.Close()

	comm := collective.New(backend, collective.WithLogger(log))
	return smoke(ctx, comm, bucket)
}

// smoke runs each collective once over a small container and checks the
// answers every rank can predict locally.
func smoke(ctx context.Context, comm *collective.Communicator, bucket *blob.Bucket) error {
	rank, world := comm.Rank(), comm.WorldSize()
	obj := collective.Map{
		"score": collective.LeafOf(tensors.New1D(tensors.CPU, []float64{float64(rank)})),
		"count": collective.LeafOf(tensors.New1D(tensors.CPU, []int64{1})),
	}

	summed, err := comm.Reduce(ctx, obj, "sum")
	if err != nil {
		return errors.Wrap(err, "reduce")
	}
	wantSum := float64(world*(world-1)) / 2
	gotSum := tensors.Data[float64](summed.(collective.Map)["score"].(collective.Leaf).Tensor)[0]
	if gotSum != wantSum {
		return errors.Errorf("reduce sum came back %v, every rank expected %v", gotSum, wantSum)
	}

	stacked, err := comm.Stack(ctx, obj)
	if err != nil {
		return errors.Wrap(err, "stack")
	}
	scores := stacked.(collective.Map)["score"].(collective.Leaf).Tensor
	if got := scores.NumElements(); got != world {
		return errors.Errorf("stack gathered %d scores from a world of %d", got, world)
	}

	// Uneven shards: rank r contributes r+1 rows.
	shard := make([]int64, rank+1)
	for i := range shard {
		shard[i] = int64(rank)
	}
	merged, err := comm.Cat(ctx, collective.LeafOf(tensors.New1D(tensors.CPU, shard)))
	if err != nil {
		return errors.Wrap(err, "cat")
	}
	wantRows := world * (world + 1) / 2
	if got := merged.(collective.Leaf).Tensor.NumElements(); got != wantRows {
		return errors.Errorf("cat merged %d rows, every rank expected %d", got, wantRows)
	}

	shared, err := comm.Gated(ctx, bucket, "smoke/topology", func(context.Context) (collective.Container, error) {
		return collective.LeafOf(tensors.New1D(tensors.CPU, []int64{int64(world)})), nil
	}, collective.SkipCache())
	if err != nil {
		return errors.Wrap(err, "gated")
	}
	if got := tensors.Data[int64](shared.(collective.Leaf).Tensor)[0]; got != int64(world) {
		return errors.Errorf("gated artifact held %d, coordinator wrote %d", got, world)
	}

	fmt.Printf("rank %d/%d: collectives healthy\n", rank, world)
	return nil
}
