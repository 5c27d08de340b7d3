package services_test

import (
	"context"
	"testing"

	"curator/internal/services"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, 7)
	ctx = services.WithPhase(ctx, "enrich")
	ctx = services.WithEntityID(ctx, 42)
	ctx = services.WithRequestID(ctx, "req-1")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("job id = %d, %v", id, ok)
	}
	if phase, ok := services.PhaseFromContext(ctx); !ok || phase != "enrich" {
		t.Fatalf("phase = %q, %v", phase, ok)
	}
	if id, ok := services.EntityIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("entity id = %d, %v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-1" {
		t.Fatalf("request id = %q, %v", rid, ok)
	}
}

func TestEmptyValuesIgnored(t *testing.T) {
	ctx := services.WithPhase(context.Background(), "")
	if _, ok := services.PhaseFromContext(ctx); ok {
		t.Fatal("expected empty phase to be ignored")
	}
}
