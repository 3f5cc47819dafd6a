package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSessionReconciler_CleanupExpiredSessions(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	ctx := context.Background()
	reconciler := NewSessionReconciler(zap.NewNop(), fx.cache, fx.repo)

	live := fx.create(t, "agent-live")

	// Una fila vencida y una inactiva, ambas con restos en el cache.
	expired := testSession("expired", fx.user.ID, -time.Minute)
	if err := fx.repo.Create(ctx, expired); err != nil {
		t.Fatalf("seed expired row: %v", err)
	}
	fx.mr.Set(sessionKey("expired"), "leftover")
	if err := fx.cache.AddUserSession(ctx, fx.user.ID, "expired", expired.CreatedAt, time.Hour); err != nil {
		t.Fatalf("seed expired index: %v", err)
	}

	inactive := testSession("inactive", fx.user.ID, time.Hour)
	inactive.IsActive = false
	if err := fx.repo.Create(ctx, inactive); err != nil {
		t.Fatalf("seed inactive row: %v", err)
	}

	if err := reconciler.CleanupExpiredSessions(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, ok := fx.repo.row("expired"); ok {
		t.Fatalf("expired row should be hard-deleted")
	}
	if _, ok := fx.repo.row("inactive"); ok {
		t.Fatalf("inactive row should be hard-deleted")
	}
	if fx.mr.Exists(sessionKey("expired")) {
		t.Fatalf("expired cache key should be gone")
	}

	// La sesion viva sobrevive intacta.
	if row, ok := fx.repo.row(live); !ok || !row.IsActive {
		t.Fatalf("live session must be untouched, got %+v (ok=%v)", row, ok)
	}
	if s, err := fx.manager.ValidateSession(ctx, live); err != nil || s == nil {
		t.Fatalf("live session must keep validating, got %+v, %v", s, err)
	}

	// Correrlo de nuevo es un no-op.
	if err := reconciler.CleanupExpiredSessions(ctx); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if row, ok := fx.repo.row(live); !ok || !row.IsActive {
		t.Fatalf("live session lost on second pass: %+v (ok=%v)", row, ok)
	}
}

func TestSessionReconciler_RunStopsOnContextCancel(t *testing.T) {
	fx := newManagerFixture(t, time.Hour)
	reconciler := NewSessionReconciler(zap.NewNop(), fx.cache, fx.repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reconciler.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reconciler did not stop after cancel")
	}
}
