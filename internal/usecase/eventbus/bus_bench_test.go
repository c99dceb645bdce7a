package eventbus

import (
	"context"
	"log/slog"
	"testing"

	"permgate/internal/domain"
)

func BenchmarkPublishPermissionUpdate(b *testing.B) {
	bus := New(slog.Default())
	ctx := context.Background()
	event, err := NewEvent(domain.EventPermissionUpdate, domain.PermissionUpdate{
		Type:       domain.BroadcastPermissionUpdate,
		Permission: domain.PermissionLogin,
		Value:      true,
	})
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		bus.Subscribe(domain.EventPermissionUpdate, func(_ context.Context, _ domain.Event) {})
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

func BenchmarkPublishNoSubscribers(b *testing.B) {
	bus := New(slog.Default())
	ctx := context.Background()
	event := domain.Event{Type: domain.EventSweepCompleted}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		bus.Publish(ctx, event)
	}
	bus.Close()
}
