package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"go.chronowheel.dev/internal/scheduler"
)

func TestNoopNotifier_NeverFails(t *testing.T) {
	var n NoopNotifier
	err := n.Notify(context.Background(), scheduler.DrainedJob{ID: uuid.New(), TriggerAtMs: 1})
	if err != nil {
		t.Fatalf("expected NoopNotifier to never fail, got %v", err)
	}
}

func TestNewRedisNotifier_InvalidURL(t *testing.T) {
	if _, err := NewRedisNotifier("not-a-valid-redis-url", "chronowheel:fired"); err == nil {
		t.Fatal("expected an error for an invalid redis URL")
	}
}
