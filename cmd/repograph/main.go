package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/repograph/repograph/internal/pipeline"
	"github.com/repograph/repograph/internal/store"
	"github.com/repograph/repograph/internal/tools"
	"github.com/repograph/repograph/internal/watcher"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	indexPath := flag.String("index", "", "index a repository and exit (no MCP server)")
	watch := flag.Bool("watch", false, "poll indexed projects for changes while serving")
	dbPath := flag.String("db", "", "database path (defaults to ~/.cache/repograph/repograph.db)")
	flag.Parse()

	if *showVersion {
		fmt.Println("repograph", version)
		return
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var s *store.Store
	var err error
	if *dbPath != "" {
		s, err = store.OpenPath(*dbPath)
	} else {
		s, err = store.Open("repograph")
	}
	if err != nil {
		log.Fatalf("store open err=%v", err)
	}
	defer s.Close()

	if *indexPath != "" {
		p := pipeline.New(context.Background(), s, *indexPath)
		if err := p.Run(); err != nil {
			log.Fatalf("index err=%v", err)
		}
		return
	}

	ctx := context.Background()
	srv := tools.NewServer(s)

	if *watch {
		w := watcher.New(s,
			func(ctx context.Context, _, rootPath string) error {
				return pipeline.New(ctx, s, rootPath).Run()
			},
			func(ctx context.Context, _, rootPath, absPath string) error {
				return pipeline.New(ctx, s, rootPath).RemoveFileFromState(absPath)
			},
		)
		go w.Run(ctx)
	}

	if err := srv.MCPServer().Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server err=%v", err)
	}
}
