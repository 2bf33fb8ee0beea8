// Package main starts the patch content discovery service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/patchwork-dev/patchcrawl/internal/config"
	"github.com/patchwork-dev/patchcrawl/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (optional; PATCHCRAWL_* env vars always apply)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}
