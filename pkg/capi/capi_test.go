package capi

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/navigable/smallworld/pkg/core"
)

func TestHandleLifecycle(t *testing.T) {
	h := Create()
	if h == 0 {
		t.Fatal("Create returned the zero handle")
	}
	h2 := Create()
	if h2 == h {
		t.Fatal("Create returned a duplicate handle")
	}
	Destroy(h)
	Destroy(h) // idempotent
	Destroy(h2)

	// Handles are never reused.
	h3 := Create()
	defer Destroy(h3)
	if h3 == h || h3 == h2 {
		t.Fatalf("handle %d reused after destroy", h3)
	}
}

func TestUnknownHandle(t *testing.T) {
	res := Init(Handle(999999), "nope.json")
	if res.OK {
		t.Fatal("Init on unknown handle reported OK")
	}
	if res.Code != core.CodeInvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", res.Code)
	}
	if res.Msg == "" {
		t.Fatal("failure carries no message")
	}
}

func TestFullRoundTrip(t *testing.T) {
	h := Create()
	defer Destroy(h)

	if res := Init(h, writeConfig(t)); !res.OK {
		t.Fatalf("Init: %+v", res)
	}

	const n, dim, topk = 200, 8, 5
	data := randomData(n, dim)
	if res := SetData(h, data, n, dim); !res.OK {
		t.Fatalf("SetData: %+v", res)
	}
	if res := BuildGraph(h); !res.OK {
		t.Fatalf("BuildGraph: %+v", res)
	}

	ids := make([]int32, 2*topk)
	distances := make([]float32, 2*topk)
	found := make([]int32, 2)
	res := SearchGraph(h, data[:2*dim], 2, topk, 32, ids, distances, found)
	if !res.OK {
		t.Fatalf("SearchGraph: %+v", res)
	}
	for q := 0; q < 2; q++ {
		if found[q] != topk {
			t.Fatalf("query %d found %d, want %d", q, found[q], topk)
		}
		if ids[q*topk] != int32(q) {
			t.Fatalf("query %d nearest id = %d, want itself", q, ids[q*topk])
		}
		if distances[q*topk] != 0 {
			t.Fatalf("query %d self distance = %g, want 0", q, distances[q*topk])
		}
	}

	// Save, destroy, load into a fresh handle.
	path := filepath.Join(t.TempDir(), "index.swix")
	if res := SaveIndex(h, path); !res.OK {
		t.Fatalf("SaveIndex: %+v", res)
	}

	h2 := Create()
	defer Destroy(h2)
	if res := Init(h2, writeConfig(t)); !res.OK {
		t.Fatalf("Init second: %+v", res)
	}
	if res := LoadIndex(h2, path); !res.OK {
		t.Fatalf("LoadIndex: %+v", res)
	}
	ids2 := make([]int32, topk)
	if res := SearchGraph(h2, data[:dim], 1, topk, 32, ids2, nil, nil); !res.OK {
		t.Fatalf("SearchGraph after load: %+v", res)
	}
	if ids2[0] != 0 {
		t.Fatalf("loaded index nearest id = %d, want 0", ids2[0])
	}
}

func TestStateErrorsCrossBoundary(t *testing.T) {
	h := Create()
	defer Destroy(h)

	// Build before configuring.
	if res := BuildGraph(h); res.OK || res.Code != core.CodeInvalidState {
		t.Fatalf("BuildGraph unconfigured: %+v, want InvalidState", res)
	}
	if res := Init(h, writeConfig(t)); !res.OK {
		t.Fatalf("Init: %+v", res)
	}
	if res := SearchGraph(h, nil, 0, 1, 1, nil, nil, nil); res.OK || res.Code != core.CodeInvalidState {
		t.Fatalf("SearchGraph unbuilt: %+v, want InvalidState", res)
	}
	if res := SetData(h, []float32{1, 2}, 1, 3); res.OK || res.Code != core.CodeInvalidArgument {
		t.Fatalf("SetData with bad shape: %+v, want InvalidArgument", res)
	}
}

func TestSearchBufferHandling(t *testing.T) {
	h := Create()
	defer Destroy(h)
	if res := Init(h, writeConfig(t)); !res.OK {
		t.Fatalf("Init: %+v", res)
	}
	const n, dim = 10, 4
	data := randomData(n, dim)
	if res := SetData(h, data, n, dim); !res.OK {
		t.Fatalf("SetData: %+v", res)
	}
	if res := BuildGraph(h); !res.OK {
		t.Fatalf("BuildGraph: %+v", res)
	}

	// Undersized buffers fail before any search runs.
	short := make([]int32, 3)
	if res := SearchGraph(h, data[:dim], 1, 5, 10, short, nil, nil); res.OK || res.Code != core.CodeInvalidArgument {
		t.Fatalf("undersized ids: %+v, want InvalidArgument", res)
	}

	// All-nil outputs still perform the search and report OK.
	if res := SearchGraph(h, data[:dim], 1, 5, 10, nil, nil, nil); !res.OK {
		t.Fatalf("nil outputs: %+v", res)
	}

	// topk beyond the point count pads with -1.
	ids := make([]int32, 20)
	found := make([]int32, 1)
	if res := SearchGraph(h, data[:dim], 1, 20, 32, ids, nil, found); !res.OK {
		t.Fatalf("topk > count: %+v", res)
	}
	if found[0] != n {
		t.Fatalf("found = %d, want %d", found[0], n)
	}
	for i := int(found[0]); i < 20; i++ {
		if ids[i] != -1 {
			t.Fatalf("slot %d = %d, want -1 padding", i, ids[i])
		}
	}
}

func TestGuardFencesPanics(t *testing.T) {
	res := guard("test_op", func() error {
		panic("deliberate")
	})
	if res.OK {
		t.Fatal("panicking operation reported OK")
	}
	if res.Code != core.CodeInternal {
		t.Fatalf("code = %v, want Internal", res.Code)
	}
	if res.Msg == "" {
		t.Fatal("panic result carries no message")
	}
}

// writeConfig drops a minimal valid config file into a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"dist_type": "l2", "max_m": 8, "ef_construction": 64, "seed": 777}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func randomData(n, dim int) []float32 {
	rng := rand.New(rand.NewSource(7))
	data := make([]float32, n*dim)
	for i := range data {
		data[i] = rng.Float32()
	}
	return data
}
