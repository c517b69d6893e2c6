// Command swbench measures graph build and search performance on
// synthetic data, reporting recall against exact brute-force results
// and per-query latency percentiles. It benchmarks the embedded engine
// by default; -addr points it at a running server instead, driving the
// same workload through the HTTP API so round-trip cost shows up in
// the numbers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/navigable/smallworld/pkg/client"
	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/distance"
	"github.com/navigable/smallworld/pkg/core/flat"
	"github.com/navigable/smallworld/pkg/engine"
	"github.com/navigable/smallworld/pkg/vectorstore"
)

func main() {
	n := flag.Int("n", 10000, "Number of points to index")
	dim := flag.Int("dim", 128, "Vector dimension")
	nq := flag.Int("queries", 1000, "Number of search queries")
	topk := flag.Int("topk", 10, "Neighbors per query")
	metric := flag.String("metric", "l2", "Distance metric: l2, dot or cosine")
	precision := flag.String("precision", "f32", "Storage precision: f32 or f16")
	maxM := flag.Int("m", 16, "Degree bound per layer")
	efc := flag.Int("efc", 200, "Construction beam width")
	efList := flag.String("ef", "16,32,64,128", "Comma-separated search beam widths")
	workers := flag.Int("workers", 0, "Build workers, 0 for GOMAXPROCS (embedded mode only)")
	seed := flag.Int64("seed", 42, "Data generator seed")
	addr := flag.String("addr", "", "Base URL of a running server, e.g. http://localhost:7979; empty benchmarks the embedded engine")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	efs, err := parseEfList(*efList, *topk)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	data := randomData(rng, *n, *dim)
	queries := randomData(rng, *nq, *dim)

	cfg := core.DefaultConfig()
	cfg.DistType = *metric
	cfg.Precision = *precision
	cfg.MaxM = *maxM
	cfg.EfConstruction = *efc
	cfg.BuildWorkers = *workers
	cfg.Seed = *seed

	fmt.Printf("building: n=%d dim=%d metric=%s precision=%s m=%d efc=%d\n",
		*n, *dim, *metric, *precision, *maxM, *efc)

	var search searchFunc
	var cleanup func()
	if *addr != "" {
		search, cleanup = remoteBench(*addr, &cfg, data, *n, *dim)
	} else {
		search, cleanup = embeddedBench(&cfg, data, *n, *dim)
	}
	defer cleanup()

	truth := groundTruth(&cfg, data, queries, *n, *nq, *dim, *topk)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ef\trecall@%d\tqps\tp50\tp95\tp99\n", *topk)
	for _, ef := range efs {
		recall, qps, lat := runSearches(search, queries, *nq, *dim, *topk, ef, truth)
		fmt.Fprintf(w, "%d\t%.4f\t%.0f\t%v\t%v\t%v\n",
			ef, recall, qps,
			percentile(lat, 0.50).Round(time.Microsecond),
			percentile(lat, 0.95).Round(time.Microsecond),
			percentile(lat, 0.99).Round(time.Microsecond))
	}
	w.Flush()
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func parseEfList(raw string, topk int) ([]int, error) {
	var efs []int
	for _, part := range strings.Split(raw, ",") {
		ef, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad ef value %q", part)
		}
		if ef < topk {
			ef = topk
		}
		efs = append(efs, ef)
	}
	return efs, nil
}

func randomData(rng *rand.Rand, n, dim int) []float32 {
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = rng.Float32()
	}
	return data
}

// searchFunc answers one query, returning the padded id row and the
// number of real neighbors in it.
type searchFunc func(query []float32, topk, ef int) (ids []int32, found int32, err error)

func embeddedBench(cfg *core.Config, data []float32, n, dim int) (searchFunc, func()) {
	eng := engine.New("bench")
	if err := eng.InitConfig(cfg); err != nil {
		fatal("configure engine", err)
	}
	if err := eng.SetData(data, n, dim); err != nil {
		fatal("load data", err)
	}
	stats, err := eng.BuildGraph(context.Background())
	if err != nil {
		fatal("build graph", err)
	}
	fmt.Printf("built in %v: levels=%d edges=%d waves=%d workers=%d (%.0f points/s)\n\n",
		stats.Duration.Round(time.Millisecond), stats.MaxLevel, stats.EdgeCount,
		stats.Waves, stats.Workers, float64(n)/stats.Duration.Seconds())

	search := func(query []float32, topk, ef int) ([]int32, int32, error) {
		res, err := eng.SearchGraph(context.Background(), query, 1, topk, ef)
		if err != nil {
			return nil, 0, err
		}
		return res.IDs, res.Found[0], nil
	}
	return search, func() { eng.Close() }
}

func remoteBench(addr string, cfg *core.Config, data []float32, n, dim int) (searchFunc, func()) {
	cli := client.NewFromURL(addr)
	if err := cli.Health(); err != nil {
		fatal("reach server", err)
	}

	const name = "swbench"
	_ = cli.DeleteIndex(name) // a previous run may have left one behind
	if _, err := cli.CreateIndex(name, &client.IndexOptions{
		Metric:         cfg.DistType,
		Precision:      cfg.Precision,
		MaxM:           cfg.MaxM,
		EfConstruction: cfg.EfConstruction,
		Seed:           cfg.Seed,
	}); err != nil {
		fatal("create index", err)
	}
	if err := cli.SetData(name, data, n, dim); err != nil {
		fatal("load data", err)
	}

	start := time.Now()
	task, err := cli.Build(name)
	if err != nil {
		fatal("start build", err)
	}
	if err := task.Wait(200*time.Millisecond, 30*time.Minute); err != nil {
		fatal("build task", err)
	}
	built := time.Since(start)
	info, err := cli.GetIndexInfo(name)
	if err != nil {
		fatal("index info", err)
	}
	fmt.Printf("built in %v: levels=%d edges=%d (%.0f points/s, wall time across the API)\n\n",
		built.Round(time.Millisecond), info.GraphMaxLevel, info.EdgeCount,
		float64(n)/built.Seconds())

	search := func(query []float32, topk, ef int) ([]int32, int32, error) {
		res, err := cli.Search(name, query, 1, topk, ef)
		if err != nil {
			return nil, 0, err
		}
		return res.IDs, res.Found[0], nil
	}
	return search, func() { _ = cli.DeleteIndex(name) }
}

// groundTruth computes exact neighbor sets with a brute-force scan over
// a second copy of the data, mirroring the engine's normalization. In
// remote mode this stays local: the flags pin the same metric and
// precision the server index was created with.
func groundTruth(cfg *core.Config, data, queries []float32, n, nq, dim, topk int) []*roaring.Bitmap {
	store := vectorstore.New(
		vectorstore.WithPrecision(cfg.PrecisionType()),
		vectorstore.WithFiniteCheck(false),
	)
	if err := store.SetData(data, n, dim); err != nil {
		fatal("load truth data", err)
	}
	if cfg.Normalize() {
		store.NormalizeL2(distance.Accelerated())
	}
	metric := cfg.Metric()
	exact, err := flat.New(store, flat.Params{
		Metric:         metric,
		UseAccel:       distance.Accelerated(),
		NormalizeQuery: metric == distance.Cosine,
	})
	if err != nil {
		fatal("exact index", err)
	}
	if _, err := exact.Build(context.Background(), nil); err != nil {
		fatal("exact build", err)
	}

	truth := make([]*roaring.Bitmap, nq)
	for q := 0; q < nq; q++ {
		cands, err := exact.Search(context.Background(), queries[q*dim:(q+1)*dim], topk, topk)
		if err != nil {
			fatal("exact search", err)
		}
		truth[q] = roaring.New()
		for _, c := range cands {
			truth[q].Add(c.ID)
		}
	}
	return truth
}

func runSearches(search searchFunc, queries []float32, nq, dim, topk, ef int, truth []*roaring.Bitmap) (recall, qps float64, lat []time.Duration) {
	lat = make([]time.Duration, 0, nq)
	var hits, want uint64

	start := time.Now()
	for q := 0; q < nq; q++ {
		qStart := time.Now()
		ids, found, err := search(queries[q*dim:(q+1)*dim], topk, ef)
		if err != nil {
			fatal("search", err)
		}
		lat = append(lat, time.Since(qStart))

		got := roaring.New()
		for i := 0; i < int(found); i++ {
			got.Add(uint32(ids[i]))
		}
		got.And(truth[q])
		hits += got.GetCardinality()
		want += truth[q].GetCardinality()
	}
	elapsed := time.Since(start)

	return float64(hits) / float64(want), float64(nq) / elapsed.Seconds(), lat
}

func percentile(lat []time.Duration, p float64) time.Duration {
	if len(lat) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(lat))
	copy(sorted, lat)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
