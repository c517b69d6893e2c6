// Package mcp exposes a smallworld server to language models over the
// Model Context Protocol. Tools cover index management, data loading,
// builds, search and snapshots; all state lives in the HTTP server the
// service client points at.
package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/navigable/smallworld/pkg/client"
)

func NewMCPServer(c *client.Client) *mcp.Server {
	service := NewService(c)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "smallworld",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "create_index",
		Description: "Create a named vector index. Metric, precision and graph parameters are optional and default to the server's configuration.",
	}, service.CreateIndex)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_indexes",
		Description: "List all vector indexes with their size and build state.",
	}, service.ListIndexes)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "index_info",
		Description: "Inspect one index: metric, precision, compute backend, point count and graph shape.",
	}, service.IndexInfo)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "set_vectors",
		Description: "Load a batch of vectors into an index, replacing any previous data. The graph must be (re)built afterwards.",
	}, service.SetVectors)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "build_index",
		Description: "Build the navigable graph over the loaded vectors. Runs asynchronously unless wait is set; poll with task_status.",
	}, service.BuildIndex)

	// The search arguments carry numeric constraints the struct tags
	// cannot express, so this tool declares its schema explicitly.
	mcp.AddTool(s, &mcp.Tool{
		Name:        "vector_search",
		Description: "Find the nearest neighbors of a query vector in a built index. Returns ids and distances in ascending distance order.",
		InputSchema: vectorSearchSchema(),
	}, service.VectorSearch)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "task_status",
		Description: "Check the status of an asynchronous build task.",
	}, service.TaskStatus)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "save_index",
		Description: "Persist a built index to a snapshot file on the server.",
	}, service.SaveIndex)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "load_index",
		Description: "Replace an index's state with a previously saved snapshot file.",
	}, service.LoadIndex)

	return s
}

func vectorSearchSchema() *jsonschema.Schema {
	one := 1.0
	minOne := 1
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"name", "query"},
		Properties: map[string]*jsonschema.Schema{
			"name": {
				Type:        "string",
				Description: "Name of the index to search",
			},
			"query": {
				Type:        "array",
				Description: "The query vector; must match the index dimension",
				MinItems:    &minOne,
				Items:       &jsonschema.Schema{Type: "number"},
			},
			"topk": {
				Type:        "integer",
				Description: "How many neighbors to return (default 5)",
				Minimum:     &one,
			},
			"ef_search": {
				Type:        "integer",
				Description: "Search beam width; at least topk. Larger is more accurate and slower (default 4*topk)",
				Minimum:     &one,
			},
		},
	}
}
