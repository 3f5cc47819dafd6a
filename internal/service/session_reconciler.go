package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ferchox920/sessiond/internal/repository"
)

// SessionReconciler barre sesiones vencidas o inactivas de ambos stores.
// Es el unico camino que borra filas durables de forma definitiva.
type SessionReconciler struct {
	logger *zap.Logger
	cache  *SessionCache
	repo   repository.SessionRepository
}

func NewSessionReconciler(logger *zap.Logger, cache *SessionCache, repo repository.SessionRepository) *SessionReconciler {
	return &SessionReconciler{
		logger: logger,
		cache:  cache,
		repo:   repo,
	}
}

// CleanupExpiredSessions elimina del cache cada sesion vencida o inactiva y
// luego borra sus filas durables en bloque. Opera solo sobre registros que ya
// salieron de su ventana de validez, asi que es seguro correrlo junto al
// trafico normal, y correrlo dos veces seguidas es un no-op la segunda.
func (r *SessionReconciler) CleanupExpiredSessions(ctx context.Context) error {
	now := time.Now().UTC()
	stale, err := r.repo.FindStale(ctx, now)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stale))
	for _, session := range stale {
		if err := r.cache.DeleteSession(ctx, session.ID); err != nil {
			return err
		}
		if err := r.cache.RemoveUserSession(ctx, session.UserID, session.ID); err != nil {
			return err
		}
		ids = append(ids, session.ID)
	}

	deleted, err := r.repo.DeleteByIDs(ctx, ids)
	if err != nil {
		return err
	}

	r.logger.Info("expired sessions cleaned up",
		zap.Int("stale", len(stale)),
		zap.Int64("deleted", deleted),
	)
	return nil
}

// Run ejecuta el barrido de inmediato y luego en cada tick hasta que el
// contexto se cancele.
func (r *SessionReconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	if err := r.CleanupExpiredSessions(ctx); err != nil {
		r.logger.Error("session cleanup failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.CleanupExpiredSessions(ctx); err != nil {
				r.logger.Error("session cleanup failed", zap.Error(err))
			}
		}
	}
}
