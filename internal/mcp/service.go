package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/navigable/smallworld/pkg/client"
)

// Service adapts a smallworld API client to MCP tool handlers. Every
// handler is stateless; the server holds all index state.
type Service struct {
	client *client.Client
}

func NewService(c *client.Client) *Service {
	return &Service{client: c}
}

// --- Tool Handlers ---

func (s *Service) CreateIndex(ctx context.Context, req *mcp.CallToolRequest, args CreateIndexArgs) (*mcp.CallToolResult, CreateIndexResult, error) {
	if args.Name == "" {
		return nil, CreateIndexResult{}, fmt.Errorf("index name is required")
	}
	info, err := s.client.CreateIndex(args.Name, &client.IndexOptions{
		Metric:         args.Metric,
		Precision:      args.Precision,
		MaxM:           args.MaxM,
		EfConstruction: args.EfConstruction,
		Seed:           args.Seed,
	})
	if err != nil {
		return nil, CreateIndexResult{}, err
	}
	return nil, CreateIndexResult{Name: info.Name, Metric: info.Metric, Status: "created"}, nil
}

func (s *Service) ListIndexes(ctx context.Context, req *mcp.CallToolRequest, args ListIndexesArgs) (*mcp.CallToolResult, ListIndexesResult, error) {
	infos, err := s.client.ListIndexes()
	if err != nil {
		return nil, ListIndexesResult{}, err
	}
	out := ListIndexesResult{Indexes: make([]IndexSummary, 0, len(infos))}
	for _, info := range infos {
		out.Indexes = append(out.Indexes, IndexSummary{
			Name:  info.Name,
			Count: info.Count,
			Dim:   info.Dim,
			Built: info.Built,
		})
	}
	return nil, out, nil
}

func (s *Service) IndexInfo(ctx context.Context, req *mcp.CallToolRequest, args IndexInfoArgs) (*mcp.CallToolResult, IndexInfoResult, error) {
	info, err := s.client.GetIndexInfo(args.Name)
	if err != nil {
		return nil, IndexInfoResult{}, err
	}
	return nil, IndexInfoResult{
		Name:      info.Name,
		Metric:    info.Metric,
		Precision: info.Precision,
		Backend:   info.Backend,
		Count:     info.Count,
		Dim:       info.Dim,
		Built:     info.Built,
		MaxLevel:  info.GraphMaxLevel,
		EdgeCount: info.EdgeCount,
	}, nil
}

func (s *Service) SetVectors(ctx context.Context, req *mcp.CallToolRequest, args SetVectorsArgs) (*mcp.CallToolResult, SetVectorsResult, error) {
	n := len(args.Vectors)
	if n == 0 {
		return nil, SetVectorsResult{}, fmt.Errorf("vectors must not be empty")
	}
	dim := len(args.Vectors[0])
	flat := make([]float32, 0, n*dim)
	for i, row := range args.Vectors {
		if len(row) != dim {
			return nil, SetVectorsResult{}, fmt.Errorf("vector %d has dimension %d, want %d", i, len(row), dim)
		}
		flat = append(flat, row...)
	}
	if err := s.client.SetData(args.Name, flat, n, dim); err != nil {
		return nil, SetVectorsResult{}, err
	}
	return nil, SetVectorsResult{Count: n, Dim: dim}, nil
}

func (s *Service) BuildIndex(ctx context.Context, req *mcp.CallToolRequest, args BuildIndexArgs) (*mcp.CallToolResult, BuildIndexResult, error) {
	task, err := s.client.Build(args.Name)
	if err != nil {
		return nil, BuildIndexResult{}, err
	}
	if args.Wait {
		if err := task.Wait(100*time.Millisecond, 10*time.Minute); err != nil {
			return nil, BuildIndexResult{TaskID: task.ID, Status: task.Status}, err
		}
	}
	return nil, BuildIndexResult{TaskID: task.ID, Status: task.Status}, nil
}

func (s *Service) VectorSearch(ctx context.Context, req *mcp.CallToolRequest, args VectorSearchArgs) (*mcp.CallToolResult, VectorSearchResult, error) {
	if len(args.Query) == 0 {
		return nil, VectorSearchResult{}, fmt.Errorf("query vector is required")
	}
	topk := args.TopK
	if topk <= 0 {
		topk = 5
	}
	efSearch := args.EfSearch
	if efSearch < topk {
		efSearch = max(4*topk, 64)
	}

	res, err := s.client.Search(args.Name, args.Query, 1, topk, efSearch)
	if err != nil {
		return nil, VectorSearchResult{}, err
	}
	// Strip the -1 padding; the model only wants real neighbors.
	found := int(res.Found[0])
	return nil, VectorSearchResult{
		IDs:       res.IDs[:found],
		Distances: res.Distances[:found],
	}, nil
}

func (s *Service) TaskStatus(ctx context.Context, req *mcp.CallToolRequest, args TaskStatusArgs) (*mcp.CallToolResult, TaskStatusResult, error) {
	task, err := s.client.GetTask(args.TaskID)
	if err != nil {
		return nil, TaskStatusResult{}, err
	}
	return nil, TaskStatusResult{TaskID: task.ID, Status: task.Status, Error: task.Error}, nil
}

func (s *Service) SaveIndex(ctx context.Context, req *mcp.CallToolRequest, args SnapshotArgs) (*mcp.CallToolResult, SnapshotResult, error) {
	path, err := s.client.Save(args.Name, args.Path)
	if err != nil {
		return nil, SnapshotResult{}, err
	}
	return nil, SnapshotResult{Path: path, Status: "saved"}, nil
}

func (s *Service) LoadIndex(ctx context.Context, req *mcp.CallToolRequest, args SnapshotArgs) (*mcp.CallToolResult, SnapshotResult, error) {
	if _, err := s.client.Load(args.Name, args.Path); err != nil {
		return nil, SnapshotResult{}, err
	}
	return nil, SnapshotResult{Path: args.Path, Status: "loaded"}, nil
}
