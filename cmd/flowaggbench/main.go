// Command flowaggbench is a small end-to-end harness exercising
// RandomUniq and TopNSelector against generated flow records, decoding
// results through the CSV sink.
//
// Adapted from the teacher's cmd/benchmark/main.go (generate synthetic
// rows, run the pipeline, report throughput); the CSV-indexing pipeline
// it benchmarked is replaced end to end with the aggregation engine, and
// the SIGTERM/SIGINT wiring now goes through internal/shutdown instead of
// being hand-rolled per command.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/entreya/flowagg/internal/diag"
	"github.com/entreya/flowagg/internal/fieldlist"
	"github.com/entreya/flowagg/internal/fieldtypes"
	"github.com/entreya/flowagg/internal/flow"
	"github.com/entreya/flowagg/internal/shutdown"
	"github.com/entreya/flowagg/internal/topn"
	"github.com/entreya/flowagg/internal/uniq"
	"github.com/entreya/flowagg/internal/writer"
)

func main() {
	records := flag.Int("records", 200000, "number of synthetic flow records to generate")
	distinctHosts := flag.Int("distinct-hosts", 5000, "distinct source hosts to spread records across")
	tempDir := flag.String("temp-dir", os.TempDir(), "directory for spilled temp-runs")
	capacity := flag.Int("capacity", 0, "hash table capacity cap; 0 uses the reference default")
	out := flag.String("out", "flowagg-top10.csv", "output CSV path for the top-10-by-bytes bins")
	flag.Parse()

	logger, err := diag.NewLogger(diag.Enabled())
	if err != nil {
		fmt.Fprintln(os.Stderr, "flowaggbench: logger init:", err)
		os.Exit(1)
	}
	log := diag.Log(logger)
	defer logger.Sync()

	keys := fieldlist.New(fieldtypes.RoleKey)
	if _, err := keys.AddField(fieldtypes.SrcAddr, nil); err != nil {
		log.Fatalw("configure key fields", "error", err)
	}

	values := fieldlist.New(fieldtypes.RoleValue)
	if _, err := values.AddField(fieldtypes.SumBytes, nil); err != nil {
		log.Fatalw("configure value fields", "error", err)
	}
	if _, err := values.AddField(fieldtypes.SumPackets, nil); err != nil {
		log.Fatalw("configure value fields", "error", err)
	}

	cfg := uniq.Config{
		Keys:            keys,
		Values:          values,
		Distinct:        []uniq.DistinctSpec{{ID: fieldtypes.DstAddr, Width: 16}},
		TempDir:         *tempDir,
		SortOutput:      true,
		InitialCapacity: *capacity,
	}

	u, err := uniq.New(cfg)
	if err != nil {
		log.Fatalw("build RandomUniq", "error", err)
	}
	cancel := shutdown.OnSignal(u.Teardown)
	defer cancel()
	defer u.Teardown()

	log.Infow("generating synthetic records", "count", *records, "distinct_hosts", *distinctHosts)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < *records; i++ {
		rec := flow.Record{
			SrcAddr:    flow.IPv4(10, 0, byte(rng.IntN(*distinctHosts)>>8), byte(rng.IntN(*distinctHosts))),
			DstAddr:    flow.IPv4(172, 16, byte(rng.IntN(256)), byte(rng.IntN(256))),
			SumBytes:   uint64(rng.IntN(1500) + 40),
			SumPackets: uint64(rng.IntN(10) + 1),
		}
		if err := u.Add(rec); err != nil {
			log.Fatalw("add record", "index", i, "error", err)
		}
	}

	if err := u.PrepareForOutput(); err != nil {
		log.Fatalw("prepare for output", "error", err)
	}

	sel, err := topn.New(topn.Config{
		Mode:      topn.ModeCount,
		Direction: topn.Top,
		K:         10,
		Aggregate: func(b uniq.Bin) uint64 {
			return be64(b.Value[:8])
		},
	})
	if err != nil {
		log.Fatalw("build top-N selector", "error", err)
	}

	it, err := u.Iter()
	if err != nil {
		log.Fatalw("iterate", "error", err)
	}
	total := 0
	for {
		b, err := it.Next()
		if err != nil {
			break
		}
		sel.Add(b)
		total++
	}

	top := sel.Finalize()
	w := writer.New(writer.Config{Path: *out}, keys, values, []fieldtypes.ID{fieldtypes.DstAddr})
	if err := w.WriteAll(top); err != nil {
		log.Fatalw("write CSV", "error", err)
	}

	log.Infow("done", "bins", total, "top_n_written", len(top), "out", *out)
}

func be64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
