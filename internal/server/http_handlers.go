package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/navigable/smallworld/pkg/core"
	"github.com/navigable/smallworld/pkg/core/types"
	"github.com/navigable/smallworld/pkg/engine"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /indexes", s.handleListIndexes)
	mux.HandleFunc("PUT /indexes/{name}", s.handleCreateIndex)
	mux.HandleFunc("GET /indexes/{name}", s.handleIndexInfo)
	mux.HandleFunc("DELETE /indexes/{name}", s.handleDeleteIndex)

	mux.HandleFunc("POST /indexes/{name}/data", s.handleSetData)
	mux.HandleFunc("POST /indexes/{name}/levels", s.handleSetLevels)
	mux.HandleFunc("POST /indexes/{name}/build", s.handleBuild)
	mux.HandleFunc("POST /indexes/{name}/search", s.handleSearch)
	mux.HandleFunc("POST /indexes/{name}/save", s.handleSave)
	mux.HandleFunc("POST /indexes/{name}/load", s.handleLoad)

	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleTaskInfo)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.handleCancelTask)

	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || len(name) > 128 || strings.ContainsAny(name, "/\\") {
		writeHTTPError(w, http.StatusBadRequest, "invalid index name")
		return
	}

	cfg := s.cfg.engineConfig()
	if r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			writeHTTPError(w, http.StatusBadRequest, fmt.Sprintf("parse index config: %v", err))
			return
		}
	}

	eng := engine.New(name)
	if err := eng.InitConfig(&cfg); err != nil {
		writeEngineError(w, err)
		return
	}

	s.mu.Lock()
	if _, exists := s.engines[name]; exists {
		s.mu.Unlock()
		writeHTTPError(w, http.StatusConflict, fmt.Sprintf("index %q already exists", name))
		return
	}
	s.engines[name] = eng
	s.mu.Unlock()

	s.log.Info("index created", "index", name, "metric", cfg.DistType, "precision", cfg.Precision)
	writeHTTPResponse(w, http.StatusCreated, eng.Info())
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.engines))
	for name := range s.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	infos := make([]types.IndexInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, s.engines[name].Info())
	}
	s.mu.RUnlock()

	writeHTTPResponse(w, http.StatusOK, IndexListResponse{Indexes: infos})
}

func (s *Server) handleIndexInfo(w http.ResponseWriter, r *http.Request) {
	eng, found := s.getEngine(r.PathValue("name"))
	if !found {
		writeIndexNotFound(w, r.PathValue("name"))
		return
	}
	writeHTTPResponse(w, http.StatusOK, eng.Info())
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.mu.Lock()
	eng, found := s.engines[name]
	if !found {
		s.mu.Unlock()
		writeIndexNotFound(w, name)
		return
	}
	if err := eng.Close(); err != nil {
		s.mu.Unlock()
		writeEngineError(w, err)
		return
	}
	delete(s.engines, name)
	s.mu.Unlock()

	s.log.Info("index deleted", "index", name)
	writeHTTPResponse(w, http.StatusNoContent, nil)
}

func (s *Server) handleSetData(w http.ResponseWriter, r *http.Request) {
	eng, found := s.getEngine(r.PathValue("name"))
	if !found {
		writeIndexNotFound(w, r.PathValue("name"))
		return
	}

	var req SetDataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := eng.SetData(req.Vectors, req.N, req.Dim); err != nil {
		writeEngineError(w, err)
		return
	}
	writeHTTPResponse(w, http.StatusOK, eng.Info())
}

func (s *Server) handleSetLevels(w http.ResponseWriter, r *http.Request) {
	eng, found := s.getEngine(r.PathValue("name"))
	if !found {
		writeIndexNotFound(w, r.PathValue("name"))
		return
	}

	var req SetLevelsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := eng.SetRandomLevels(req.Levels); err != nil {
		writeEngineError(w, err)
		return
	}
	writeHTTPResponse(w, http.StatusOK, eng.Info())
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	eng, found := s.getEngine(name)
	if !found {
		writeIndexNotFound(w, name)
		return
	}

	// Cheap misuse checks up front; BuildGraph re-checks under its own
	// lock, so a race here only turns into a failed task.
	info := eng.Info()
	if info.Count == 0 {
		writeHTTPError(w, http.StatusConflict, fmt.Sprintf("index %q has no data", name))
		return
	}
	if info.Built {
		writeHTTPError(w, http.StatusConflict, fmt.Sprintf("index %q is already built", name))
		return
	}

	// The task context derives from the background context, not the
	// request: the build outlives this 202 response.
	task, taskCtx := s.tasks.NewTask(context.Background(), name, "build")
	go s.runBuild(taskCtx, task, eng)

	writeHTTPResponse(w, http.StatusAccepted, TaskAccepted{TaskID: task.ID, Status: TaskStatusPending})
}

func (s *Server) runBuild(ctx context.Context, task *Task, eng *engine.Engine) {
	if err := s.buildSlots.Acquire(ctx, 1); err != nil {
		task.Fail(err)
		return
	}
	defer s.buildSlots.Release(1)

	task.Start()
	stats, err := eng.BuildGraph(ctx)
	if err != nil {
		task.Fail(err)
		s.log.Error("build failed", "index", eng.Name(), "task", task.ID, "error", err)
		return
	}
	task.Complete()
	s.log.Info("build finished",
		"index", eng.Name(),
		"task", task.ID,
		"points", stats.Points,
		"edges", stats.EdgeCount,
		"duration", stats.Duration,
	)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	eng, found := s.getEngine(r.PathValue("name"))
	if !found {
		writeIndexNotFound(w, r.PathValue("name"))
		return
	}

	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := eng.SearchGraph(r.Context(), req.Queries, req.Nq, req.TopK, req.EfSearch)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeHTTPResponse(w, http.StatusOK, SearchResponse{SearchResult: res, Nq: req.Nq, TopK: req.TopK})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	eng, found := s.getEngine(r.PathValue("name"))
	if !found {
		writeIndexNotFound(w, r.PathValue("name"))
		return
	}

	var req PathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := s.resolvePath(req.Path)
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := eng.SaveIndex(path); err != nil {
		writeEngineError(w, err)
		return
	}
	writeHTTPResponse(w, http.StatusOK, PathRequest{Path: path})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	eng, found := s.getEngine(r.PathValue("name"))
	if !found {
		writeIndexNotFound(w, r.PathValue("name"))
		return
	}

	var req PathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := s.resolvePath(req.Path)
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := eng.LoadIndex(path); err != nil {
		writeEngineError(w, err)
		return
	}
	writeHTTPResponse(w, http.StatusOK, eng.Info())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeHTTPResponse(w, http.StatusOK, map[string][]Task{"tasks": s.tasks.List()})
}

func (s *Server) handleTaskInfo(w http.ResponseWriter, r *http.Request) {
	task, found := s.tasks.Get(r.PathValue("id"))
	if !found {
		writeHTTPError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", r.PathValue("id")))
		return
	}
	writeHTTPResponse(w, http.StatusOK, task.Snapshot())
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.tasks.Cancel(id) {
		writeHTTPError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", id))
		return
	}
	task, _ := s.tasks.Get(id)
	writeHTTPResponse(w, http.StatusOK, task.Snapshot())
}

// resolvePath maps a request path to the filesystem. Relative paths
// land under the data directory and may not escape it.
func (s *Server) resolvePath(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	base, err := filepath.Abs(s.cfg.DataDir)
	if err != nil {
		return "", err
	}
	full := filepath.Join(base, p)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the data directory", p)
	}
	return full, nil
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parse request body: %w", err)
	}
	return nil
}

// httpStatusOf maps engine errors onto HTTP status codes.
func httpStatusOf(err error) int {
	if errors.Is(err, fs.ErrNotExist) {
		return http.StatusNotFound
	}
	switch core.CodeOf(err) {
	case core.CodeInvalidArgument:
		return http.StatusBadRequest
	case core.CodeInvalidState:
		return http.StatusConflict
	case core.CodeCorruptData:
		return http.StatusUnprocessableEntity
	case core.CodeResourceExhausted:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeHTTPError(w, httpStatusOf(err), err.Error())
}

func writeIndexNotFound(w http.ResponseWriter, name string) {
	writeHTTPError(w, http.StatusNotFound, fmt.Sprintf("index %q not found", name))
}

func writeHTTPResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode http response", "error", err)
	}
}

func writeHTTPError(w http.ResponseWriter, status int, msg string) {
	writeHTTPResponse(w, status, ErrorResponse{Error: msg})
}
