package server

import (
	"github.com/navigable/smallworld/pkg/core/types"
	"github.com/navigable/smallworld/pkg/engine"
)

// SetDataRequest carries a row-major batch of vectors. Vectors must
// hold exactly N*Dim values.
type SetDataRequest struct {
	Vectors []float32 `json:"vectors"`
	N       int       `json:"n"`
	Dim     int       `json:"dim"`
}

// SetLevelsRequest injects one level per stored point, overriding the
// seeded assignment for the next build.
type SetLevelsRequest struct {
	Levels []int32 `json:"levels"`
}

// SearchRequest carries a row-major batch of queries.
type SearchRequest struct {
	Queries  []float32 `json:"queries"`
	Nq       int       `json:"nq"`
	TopK     int       `json:"topk"`
	EfSearch int       `json:"ef_search"`
}

// SearchResponse is the flattened result batch: row q of the matrices
// lives at [q*topk, (q+1)*topk), short rows padded with id -1.
type SearchResponse struct {
	*engine.SearchResult
	Nq   int `json:"nq"`
	TopK int `json:"topk"`
}

// PathRequest names a snapshot location. Relative paths resolve under
// the server's data directory.
type PathRequest struct {
	Path string `json:"path"`
}

// TaskAccepted acknowledges an asynchronous operation.
type TaskAccepted struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
}

// IndexListResponse lists the registered indexes.
type IndexListResponse struct {
	Indexes []types.IndexInfo `json:"indexes"`
}

// ErrorResponse is the JSON error envelope all handlers share.
type ErrorResponse struct {
	Error string `json:"error"`
}
