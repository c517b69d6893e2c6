package engine

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/navigable/smallworld/pkg/core"
)

func TestLifecycleOrdering(t *testing.T) {
	ctx := context.Background()
	e := New("lifecycle")

	// Everything but Init is invalid on a fresh engine.
	if err := e.SetData(make([]float32, 8), 2, 4); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("SetData unconfigured: got %v, want ErrInvalidState", err)
	}
	if err := e.SetRandomLevels([]int32{0, 0}); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("SetRandomLevels unconfigured: got %v, want ErrInvalidState", err)
	}
	if _, err := e.BuildGraph(ctx); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("BuildGraph unconfigured: got %v, want ErrInvalidState", err)
	}
	if _, err := e.SearchGraph(ctx, nil, 0, 1, 1); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("SearchGraph unconfigured: got %v, want ErrInvalidState", err)
	}
	if err := e.SaveIndex("x"); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("SaveIndex unconfigured: got %v, want ErrInvalidState", err)
	}

	cfg := testConfig()
	if err := e.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}

	// Reconfiguring before data is fine.
	cfg2 := testConfig()
	cfg2.EfConstruction = 80
	if err := e.InitConfig(&cfg2); err != nil {
		t.Fatalf("re-InitConfig before data: %v", err)
	}

	if err := e.SetData(randomData(100, 8, 1), 100, 8); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	// Once data is loaded the configuration is frozen.
	if err := e.InitConfig(&cfg); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("re-InitConfig after data: got %v, want ErrInvalidState", err)
	}

	// Searching needs a build first.
	if _, err := e.SearchGraph(ctx, make([]float32, 8), 1, 5, 10); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("search before build: got %v, want ErrInvalidState", err)
	}

	if _, err := e.BuildGraph(ctx); err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if _, err := e.BuildGraph(ctx); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("double build: got %v, want ErrInvalidState", err)
	}

	if _, err := e.SearchGraph(ctx, make([]float32, 8), 1, 5, 10); err != nil {
		t.Fatalf("search after build: %v", err)
	}
}

func TestInitConfigRejectsInvalid(t *testing.T) {
	cfg := testConfig()
	cfg.MaxM = 1
	if err := New("bad").InitConfig(&cfg); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
}

func TestSetDataClearsBuild(t *testing.T) {
	e := builtEngine(t, 200, 8)

	if err := e.SetData(randomData(50, 8, 2), 50, 8); err != nil {
		t.Fatalf("SetData after build: %v", err)
	}
	info := e.Info()
	if info.Built {
		t.Fatal("Info reports built after data replacement")
	}
	if info.Count != 50 {
		t.Fatalf("Info.Count = %d, want 50", info.Count)
	}
	if _, err := e.SearchGraph(context.Background(), make([]float32, 8), 1, 5, 10); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("search after data replacement: got %v, want ErrInvalidState", err)
	}
}

func TestSetRandomLevels(t *testing.T) {
	e := New("levels")
	cfg := testConfig()
	if err := e.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := e.SetData(randomData(10, 4, 3), 10, 4); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	good := make([]int32, 10)
	good[7] = 2
	if err := e.SetRandomLevels(good); err != nil {
		t.Fatalf("SetRandomLevels: %v", err)
	}

	// A bad assignment is rejected and the good one stays in force.
	if err := e.SetRandomLevels(make([]int32, 3)); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("short levels: got %v, want ErrInvalidArgument", err)
	}
	if err := e.SetRandomLevels([]int32{0, 0, 0, 0, 0, -1, 0, 0, 0, 0}); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("negative level: got %v, want ErrInvalidArgument", err)
	}

	if _, err := e.BuildGraph(context.Background()); err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	info := e.Info()
	if info.GraphMaxLevel != 2 {
		t.Fatalf("graph max level = %d, want 2 from the injected assignment", info.GraphMaxLevel)
	}
	if info.EntryPoint != 7 {
		t.Fatalf("entry point = %d, want 7", info.EntryPoint)
	}
}

func TestInjectedLevelsSurviveRebuild(t *testing.T) {
	e := New("rebuild")
	cfg := testConfig()
	if err := e.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := e.SetData(randomData(20, 4, 4), 20, 4); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	levels := make([]int32, 20)
	levels[3] = 1
	if err := e.SetRandomLevels(levels); err != nil {
		t.Fatalf("SetRandomLevels: %v", err)
	}
	if _, err := e.BuildGraph(context.Background()); err != nil {
		t.Fatalf("first build: %v", err)
	}

	// Re-injecting levels drops the previous build and permits another.
	levels[9] = 2
	if err := e.SetRandomLevels(levels); err != nil {
		t.Fatalf("re-inject: %v", err)
	}
	if e.Info().Built {
		t.Fatal("engine still reports built after level injection")
	}
	if _, err := e.BuildGraph(context.Background()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := e.Info().EntryPoint; got != 9 {
		t.Fatalf("entry point = %d, want 9", got)
	}
}

func TestZeroPointBuild(t *testing.T) {
	e := New("empty")
	cfg := testConfig()
	if err := e.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := e.SetData(nil, 0, 8); err != nil {
		t.Fatalf("SetData with zero points: %v", err)
	}
	if _, err := e.BuildGraph(context.Background()); err != nil {
		t.Fatalf("build over zero points: %v", err)
	}

	res, err := e.SearchGraph(context.Background(), make([]float32, 8), 1, 5, 10)
	if err != nil {
		t.Fatalf("search over zero points: %v", err)
	}
	if res.Found[0] != 0 {
		t.Fatalf("found %d results in an empty index", res.Found[0])
	}
	for _, id := range res.IDs {
		if id != -1 {
			t.Fatalf("empty index returned id %d, want -1 padding", id)
		}
	}
}

func TestBuildCancellationRecovers(t *testing.T) {
	e := New("cancel")
	cfg := testConfig()
	if err := e.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := e.SetData(randomData(300, 8, 5), 300, 8); err != nil {
		t.Fatalf("SetData: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.BuildGraph(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled build: got %v, want context.Canceled", err)
	}
	if e.Info().Built {
		t.Fatal("cancelled build left the engine built")
	}
	if _, err := e.BuildGraph(context.Background()); err != nil {
		t.Fatalf("rebuild after cancellation: %v", err)
	}
}

func TestSearchGraphBatch(t *testing.T) {
	const n, dim = 400, 8
	e := builtEngine(t, n, dim)

	const nq, topk = 7, 5
	queries := randomData(nq, dim, 6)
	res, err := e.SearchGraph(context.Background(), queries, nq, topk, 32)
	if err != nil {
		t.Fatalf("SearchGraph: %v", err)
	}
	if len(res.IDs) != nq*topk || len(res.Distances) != nq*topk || len(res.Found) != nq {
		t.Fatalf("result shape %d/%d/%d, want %d/%d/%d",
			len(res.IDs), len(res.Distances), len(res.Found), nq*topk, nq*topk, nq)
	}
	for q := 0; q < nq; q++ {
		if res.Found[q] != topk {
			t.Fatalf("query %d found %d, want %d", q, res.Found[q], topk)
		}
		base := q * topk
		for i := 1; i < topk; i++ {
			if res.Distances[base+i] < res.Distances[base+i-1] {
				t.Fatalf("query %d results out of order", q)
			}
		}
	}
}

func TestSearchGraphPadding(t *testing.T) {
	const n, dim = 3, 4
	e := builtEngine(t, n, dim)

	res, err := e.SearchGraph(context.Background(), make([]float32, dim), 1, 10, 16)
	if err != nil {
		t.Fatalf("SearchGraph: %v", err)
	}
	if res.Found[0] != n {
		t.Fatalf("found = %d, want %d", res.Found[0], n)
	}
	for i := int(res.Found[0]); i < 10; i++ {
		if res.IDs[i] != -1 {
			t.Fatalf("slot %d holds id %d, want -1 padding", i, res.IDs[i])
		}
	}
}

func TestSearchGraphValidation(t *testing.T) {
	e := builtEngine(t, 50, 4)
	ctx := context.Background()

	if _, err := e.SearchGraph(ctx, make([]float32, 4), 1, 0, 10); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("topk=0: got %v, want ErrInvalidArgument", err)
	}
	if _, err := e.SearchGraph(ctx, make([]float32, 4), 1, 10, 5); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("ef < topk: got %v, want ErrInvalidArgument", err)
	}
	if _, err := e.SearchGraph(ctx, make([]float32, 7), 2, 5, 10); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("bad flat length: got %v, want ErrInvalidArgument", err)
	}
	if _, err := e.SearchGraph(ctx, nil, -1, 5, 10); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("negative nq: got %v, want ErrInvalidArgument", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	const n, dim = 500, 16
	e := builtEngine(t, n, dim)
	path := filepath.Join(t.TempDir(), "index.swix")

	query := randomData(1, dim, 7)
	want, err := e.SearchGraph(context.Background(), query, 1, 10, 50)
	if err != nil {
		t.Fatalf("search before save: %v", err)
	}
	if err := e.SaveIndex(path); err != nil {
		t.Fatalf("SaveIndex: %v", err)
	}

	// A second engine with different graph parameters loads the
	// snapshot and answers identically: the file's parameters win.
	other := New("loaded")
	cfg := testConfig()
	cfg.MaxM = 4
	cfg.EfConstruction = 32
	cfg.DistType = "dot"
	if err := other.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := other.LoadIndex(path); err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}

	info := other.Info()
	if info.Metric != "l2" {
		t.Fatalf("loaded metric = %q, want l2 from the snapshot", info.Metric)
	}
	if info.Count != n || !info.Built {
		t.Fatalf("loaded info = %+v, want %d built points", info, n)
	}

	got, err := other.SearchGraph(context.Background(), query, 1, 10, 50)
	if err != nil {
		t.Fatalf("search after load: %v", err)
	}
	for i := range want.IDs {
		if got.IDs[i] != want.IDs[i] {
			t.Fatalf("result %d: id %d after load, %d before", i, got.IDs[i], want.IDs[i])
		}
		if got.Distances[i] != want.Distances[i] {
			t.Fatalf("result %d: distance %g after load, %g before", i, got.Distances[i], want.Distances[i])
		}
	}
}

func TestLoadCorruptSnapshot(t *testing.T) {
	e := New("corrupt")
	cfg := testConfig()
	if err := e.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}

	path := filepath.Join(t.TempDir(), "garbage.swix")
	if err := os.WriteFile(path, []byte("this is not a snapshot"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := e.LoadIndex(path); !errors.Is(err, core.ErrCorruptData) {
		t.Fatalf("got %v, want ErrCorruptData", err)
	}
}

func TestCosineSelfQuery(t *testing.T) {
	const n, dim = 300, 16
	e := New("cosine")
	cfg := testConfig()
	cfg.DistType = "cosine"
	if err := e.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}

	// Rows with wildly different norms; cosine must ignore magnitude.
	rng := rand.New(rand.NewSource(8))
	data := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		scale := float32(1 + rng.Intn(1000))
		for j := 0; j < dim; j++ {
			data[i*dim+j] = rng.Float32() * scale
		}
	}
	if err := e.SetData(data, n, dim); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if _, err := e.BuildGraph(context.Background()); err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}

	hits := 0
	for i := 0; i < 50; i++ {
		id := i * 6
		query := data[id*dim : (id+1)*dim]
		res, err := e.SearchGraph(context.Background(), query, 1, 1, 32)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if res.Found[0] > 0 && res.IDs[0] == int32(id) {
			hits++
			if d := res.Distances[0]; d < -1e-5 || d > 1e-5 {
				t.Fatalf("cosine self-distance = %g, want ~0", d)
			}
		}
	}
	if hits < 47 {
		t.Errorf("cosine self-query hits = %d/50", hits)
	}
}

// testConfig returns a small deterministic configuration pinned to the
// portable reference backend.
func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.MaxM = 8
	cfg.EfConstruction = 64
	cfg.DistType = "l2"
	cfg.Accel.Enabled = false
	return cfg
}

func randomData(n, dim int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = rng.Float32()
	}
	return data
}

// builtEngine configures, loads n random points, and builds.
func builtEngine(t *testing.T, n, dim int) *Engine {
	t.Helper()
	e := New("test")
	cfg := testConfig()
	if err := e.InitConfig(&cfg); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if err := e.SetData(randomData(n, dim, 42), n, dim); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if _, err := e.BuildGraph(context.Background()); err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	return e
}
