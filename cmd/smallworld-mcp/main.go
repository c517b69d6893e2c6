// Command smallworld-mcp bridges a running smallworld server to a
// language model over the Model Context Protocol. It speaks MCP on
// stdin/stdout, so diagnostics go to stderr.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	internalmcp "github.com/navigable/smallworld/internal/mcp"
	"github.com/navigable/smallworld/pkg/client"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Host of the smallworld server")
	port := flag.Int("port", 7979, "Port of the smallworld server")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	c := client.New(*host, *port)
	if err := c.Health(); err != nil {
		slog.Error("smallworld server unreachable", "host", *host, "port", *port, "error", err)
		os.Exit(1)
	}

	server := internalmcp.NewMCPServer(c)
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		slog.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
