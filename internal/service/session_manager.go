package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferchox920/sessiond/internal/domain"
	"github.com/ferchox920/sessiond/internal/repository"
)

const (
	defaultSessionTTL   = 24 * time.Hour
	durableWriteTimeout = 2 * time.Second
	sessionIDBytes      = 32 // 256 bits
)

// SessionManager orquesta el ciclo de vida de sesiones entre el fast store
// (Redis, camino primario) y el store durable (Postgres, fuente de verdad).
// No comparte estado mutable: toda coordinacion pasa por los dos stores.
type SessionManager struct {
	logger *zap.Logger
	cache  *SessionCache
	repo   repository.SessionRepository
	users  repository.UserRepository
	tokens *TokenService
	ttl    time.Duration
}

func NewSessionManager(
	logger *zap.Logger,
	cache *SessionCache,
	repo repository.SessionRepository,
	users repository.UserRepository,
	tokens *TokenService,
	ttl time.Duration,
) *SessionManager {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionManager{
		logger: logger,
		cache:  cache,
		repo:   repo,
		users:  users,
		tokens: tokens,
		ttl:    ttl,
	}
}

// generateSessionID produce un id opaco de 256 bits en hex.
func generateSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateSession registra una sesion nueva para un usuario ya autenticado.
// El fast store es obligatorio; la escritura durable es best-effort y sus
// fallas se registran sin propagarse al llamador.
func (m *SessionManager) CreateSession(ctx context.Context, user domain.User, token, ipAddress, userAgent string) (string, error) {
	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	session := domain.Session{
		ID:        id,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		Token:     token,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
		IsActive:  true,
	}

	if err := m.cache.SaveSession(ctx, session, m.ttl); err != nil {
		return "", err
	}
	if err := m.cache.AddUserSession(ctx, user.ID, id, now, m.ttl); err != nil {
		return "", err
	}

	if err := m.persistSession(ctx, session); err != nil {
		m.logger.Warn("durable session write failed, continuing on cache only",
			zap.String("session_id", id),
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}

	return id, nil
}

// persistSession intenta la escritura durable con su propio timeout.
// El error vuelve al llamador solo para registrarlo, nunca se propaga.
func (m *SessionManager) persistSession(ctx context.Context, session domain.Session) error {
	dctx, cancel := context.WithTimeout(ctx, durableWriteTimeout)
	defer cancel()
	return m.repo.Create(dctx, session)
}

// ValidateSession resuelve un id a su registro vivo, o (nil, nil) si no hay
// sesion valida. Camino primario: cache. En miss consulta el store durable y,
// si la fila sigue activa y vigente, repuebla el cache con el TTL restante.
// Payloads corruptos y entradas vencidas se eliminan como efecto colateral.
func (m *SessionManager) ValidateSession(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, nil
	}

	session, err := m.cache.GetSession(ctx, id)
	if errors.Is(err, ErrMalformedSession) {
		if delErr := m.cache.DeleteSession(ctx, id); delErr != nil {
			m.logger.Warn("failed to drop malformed session", zap.String("session_id", id), zap.Error(delErr))
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if session != nil {
		if !session.IsActive || session.Expired(now) {
			if err := m.InvalidateSession(ctx, id); err != nil {
				m.logger.Warn("failed to invalidate stale session", zap.String("session_id", id), zap.Error(err))
			}
			return nil, nil
		}
		return session, nil
	}

	return m.recoverSession(ctx, id, now)
}

// recoverSession reconstruye el registro cacheado desde el store durable
// tras una perdida del fast store. Filas vencidas o inactivas no resucitan.
func (m *SessionManager) recoverSession(ctx context.Context, id string, now time.Time) (*domain.Session, error) {
	row, err := m.repo.GetActiveByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			m.logger.Warn("durable session lookup failed", zap.String("session_id", id), zap.Error(err))
		}
		return nil, nil
	}
	if !row.IsActive || row.Expired(now) {
		return nil, nil
	}

	remaining := row.ExpiresAt.Sub(now)
	if err := m.cache.SaveSession(ctx, row, remaining); err != nil {
		return nil, err
	}
	if err := m.cache.AddUserSession(ctx, row.UserID, row.ID, row.CreatedAt, remaining); err != nil {
		return nil, err
	}

	m.logger.Info("session recovered from durable store",
		zap.String("session_id", id),
		zap.String("user_id", row.UserID),
	)
	return &row, nil
}

// ValidateSessionToken compone la validacion de sesion con la verificacion
// criptografica de la credencial y una consulta fresca del estado del usuario.
// Toda invalidez logica (credencial que no verifica, usuario suspendido o
// borrado) invalida la sesion y devuelve ausencia. Una falla transitoria del
// lookup de usuario devuelve ausencia sin invalidar: la sesion sobrevive al
// incidente de infraestructura.
// El rol devuelto sale de la consulta fresca, nunca del snapshot de la sesion.
func (m *SessionManager) ValidateSessionToken(ctx context.Context, id string) (*domain.UserIdentity, error) {
	session, err := m.ValidateSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	if _, err := m.tokens.Verify(session.Token); err != nil {
		m.invalidateQuietly(ctx, id, "credential no longer verifies")
		return nil, nil
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			m.invalidateQuietly(ctx, id, "owning user not found")
			return nil, nil
		}
		// Falla transitoria del lookup: la sesion queda intacta y el
		// llamador ve ausencia solo por esta peticion.
		m.logger.Warn("user lookup failed during token validation", zap.String("user_id", session.UserID), zap.Error(err))
		return nil, nil
	}
	if !user.Active() {
		m.invalidateQuietly(ctx, id, "user no longer active")
		return nil, nil
	}

	return &domain.UserIdentity{
		ID:    user.ID,
		Email: user.Email,
		Role:  user.Role,
	}, nil
}

func (m *SessionManager) invalidateQuietly(ctx context.Context, id, reason string) {
	if err := m.InvalidateSession(ctx, id); err != nil {
		m.logger.Warn("session invalidation failed",
			zap.String("session_id", id),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// InvalidateSession elimina la sesion del fast store y marca la fila durable
// inactiva. Es idempotente: un id desconocido no es un error.
func (m *SessionManager) InvalidateSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	session, err := m.cache.GetSession(ctx, id)
	if err != nil && !errors.Is(err, ErrMalformedSession) {
		return err
	}

	if err := m.cache.DeleteSession(ctx, id); err != nil {
		return err
	}

	userID := ""
	if session != nil {
		userID = session.UserID
	} else if row, err := m.repo.GetActiveByID(ctx, id); err == nil {
		userID = row.UserID
	}
	if userID != "" {
		if err := m.cache.RemoveUserSession(ctx, userID, id); err != nil {
			return err
		}
	}

	dctx, cancel := context.WithTimeout(ctx, durableWriteTimeout)
	defer cancel()
	if err := m.repo.Deactivate(dctx, id); err != nil {
		m.logger.Warn("durable session deactivation failed", zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

// InvalidateAllUserSessions cierra todas las sesiones vivas de un usuario:
// invalida cada entrada del indice en paralelo, borra el indice y desactiva
// las filas durables en un solo update.
func (m *SessionManager) InvalidateAllUserSessions(ctx context.Context, userID string) error {
	ids, err := m.cache.UserSessionIDs(ctx, userID)
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			if err := m.cache.DeleteSession(ctx, sessionID); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	if err := m.cache.DeleteUserIndex(ctx, userID); err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, durableWriteTimeout)
	defer cancel()
	if err := m.repo.DeactivateAllByUser(dctx, userID); err != nil {
		m.logger.Warn("bulk durable deactivation failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// RefreshSession extiende la expiracion a now+TTL. Devuelve false sin mutar
// nada si la sesion no era valida; la expiracion nunca se acorta.
func (m *SessionManager) RefreshSession(ctx context.Context, id string) (bool, error) {
	session, err := m.ValidateSession(ctx, id)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, nil
	}

	session.ExpiresAt = time.Now().UTC().Add(m.ttl)
	if err := m.cache.SaveSession(ctx, *session, m.ttl); err != nil {
		return false, err
	}
	touched, err := m.cache.TouchUserIndex(ctx, session.UserID, m.ttl)
	if err != nil {
		return false, err
	}
	if !touched {
		// El indice caduco por su cuenta; se reconstruye con esta sesion.
		if err := m.cache.AddUserSession(ctx, session.UserID, session.ID, session.CreatedAt, m.ttl); err != nil {
			return false, err
		}
	}

	dctx, cancel := context.WithTimeout(ctx, durableWriteTimeout)
	defer cancel()
	if err := m.repo.UpdateExpiry(dctx, id, session.ExpiresAt); err != nil {
		m.logger.Warn("durable expiry update failed", zap.String("session_id", id), zap.Error(err))
	}
	return true, nil
}

// GetUserSessions lista las sesiones vivas de un usuario. Las entradas del
// indice que ya no tienen registro se limpian al pasar.
func (m *SessionManager) GetUserSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	ids, err := m.cache.UserSessionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	summaries := make([]domain.SessionSummary, 0, len(ids))
	for _, id := range ids {
		session, err := m.cache.GetSession(ctx, id)
		if errors.Is(err, ErrMalformedSession) || (err == nil && session == nil) {
			if err := m.cache.RemoveUserSession(ctx, userID, id); err != nil {
				m.logger.Warn("failed to prune dangling index entry", zap.String("session_id", id), zap.Error(err))
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if !session.IsActive || session.Expired(now) {
			continue
		}
		summaries = append(summaries, session.Summary())
	}
	return summaries, nil
}
