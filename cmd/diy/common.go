package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diatomic/diy/block"
	"github.com/diatomic/diy/comm"
	"github.com/diatomic/diy/external"
	"github.com/diatomic/diy/internal/cmn"
	"github.com/diatomic/diy/internal/nlog"
	"github.com/diatomic/diy/master"
)

var demoJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// demoBlock is the example payload shared by every subcommand, the Go
// analogue of simple.cpp's Block{values, average, all_total}.
type demoBlock struct {
	Values   []int
	Average  float64
	AllTotal int64
	Floats   []float64 // cmd/diy sort
}

func demoFuncs() block.Funcs {
	return block.Funcs{
		Create: func() block.Block { return &demoBlock{} },
		Destroy: func(block.Block) {},
		Save: func(b block.Block, buf block.Buffer) error {
			enc, err := demoJSON.Marshal(b.(*demoBlock))
			if err != nil {
				return err
			}
			_, err = buf.Write(enc)
			return err
		},
		Load: func(b block.Block, buf block.Buffer) error {
			return demoJSON.Unmarshal(buf.Bytes(), b.(*demoBlock))
		},
	}
}

func encodeI64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func decodeI64(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }

func sumOp(a, b []byte) []byte { return encodeI64(decodeI64(a) + decodeI64(b)) }

// fleet is nranks Masters sharing one in-process World (comm.NewWorld),
// each with its own spill directory — the single-process stand-in for
// nranks MPI processes used by every cmd/diy subcommand.
type fleet struct {
	masters  []*master.Master
	registry *prometheus.Registry
	cleanup  func()
}

// newFleet builds nranks Masters sharing one in-process World, each wired
// to its own rank-labeled Metrics against a shared registry (every gauge
// carries a "rank" ConstLabel, so ranks don't collide). serveMetrics opts
// into actually exposing that registry over HTTP; callers that never call
// it still pay nothing beyond the gauge bookkeeping itself.
func newFleet(n int, funcs block.Funcs, cfg *cmn.Config) (*fleet, error) {
	world := comm.NewWorld(n)
	ranks := world.Ranks()
	masters := make([]*master.Master, n)
	reg := prometheus.NewRegistry()
	var dirs []string
	for r := 0; r < n; r++ {
		dir, err := os.MkdirTemp("", fmt.Sprintf("diy-%d-", r))
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
		store, err := external.NewDir(dir)
		if err != nil {
			return nil, err
		}
		masters[r] = master.New(ranks[r], store, funcs, cfg)
		masters[r].SetMetrics(master.NewMetrics(reg, r))
	}
	cleanup := func() {
		for _, d := range dirs {
			os.RemoveAll(d)
		}
	}
	return &fleet{masters: masters, registry: reg, cleanup: cleanup}, nil
}

// serveMetrics starts an HTTP server exposing fl.registry at /metrics on
// addr, returning a shutdown func to defer alongside fl.cleanup. A no-op
// if addr is empty (the default — metrics are wired but not exposed).
func (fl *fleet) serveMetrics(addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(fl.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			nlog.Errorln(err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
