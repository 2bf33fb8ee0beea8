package server

import (
	"context"
	"testing"
	"time"

	"github.com/patchwork-dev/patchcrawl/internal/config"
)

func TestBuildAndCloseInMemory(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app, err := Build(ctx, &cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if app.apiServer == nil || app.orch == nil {
		t.Fatal("expected api server and orchestrator to be wired")
	}
	if app.pool != nil || app.pubsubClient != nil || app.gcsClient != nil {
		t.Fatal("expected no external clients with default config")
	}

	if err := app.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
