package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferchox920/sessiond/internal/domain"
)

// ErrSessionNotFound indica que no existe fila activa para el id consultado.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository define el contrato de persistencia durable de sesiones.
// La tabla sessions es la fuente de verdad; el cache se reconstruye desde aca.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetActiveByID(ctx context.Context, id string) (domain.Session, error)
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	Deactivate(ctx context.Context, id string) error
	DeactivateAllByUser(ctx context.Context, userID string) error
	FindStale(ctx context.Context, now time.Time) ([]domain.Session, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// PgSessionRepository implementa SessionRepository usando pgxpool.
type PgSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgSessionRepository(pool *pgxpool.Pool) *PgSessionRepository {
	return &PgSessionRepository{pool: pool}
}

func (r *PgSessionRepository) Create(ctx context.Context, session domain.Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, token, ip_address, user_agent, expires_at, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.Token,
		nullable(session.IPAddress),
		nullable(session.UserAgent),
		session.ExpiresAt,
		session.CreatedAt,
		session.IsActive,
	)
	return err
}

// GetActiveByID recupera una sesion activa junto al snapshot de su usuario.
// Solo devuelve filas marcadas activas; la expiracion la juzga el llamador.
func (r *PgSessionRepository) GetActiveByID(ctx context.Context, id string) (domain.Session, error) {
	const query = `
		SELECT s.id, s.user_id, u.email, u.role, s.token,
		       COALESCE(s.ip_address, ''), COALESCE(s.user_agent, ''),
		       s.expires_at, s.created_at, s.is_active
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1 AND s.is_active = TRUE
	`
	var session domain.Session
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.Email,
		&session.Role,
		&session.Token,
		&session.IPAddress,
		&session.UserAgent,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.IsActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, ErrSessionNotFound
	}
	return session, err
}

func (r *PgSessionRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	const query = `
		UPDATE sessions SET expires_at = $2
		WHERE id = $1 AND is_active = TRUE
	`
	_, err := r.pool.Exec(ctx, query, id, expiresAt)
	return err
}

// Deactivate marca la fila inactiva sin borrarla, para conservar auditoria.
func (r *PgSessionRepository) Deactivate(ctx context.Context, id string) error {
	const query = `
		UPDATE sessions SET is_active = FALSE
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PgSessionRepository) DeactivateAllByUser(ctx context.Context, userID string) error {
	const query = `
		UPDATE sessions SET is_active = FALSE
		WHERE user_id = $1 AND is_active = TRUE
	`
	_, err := r.pool.Exec(ctx, query, userID)
	return err
}

// FindStale lista sesiones vencidas o inactivas, candidatas al borrado duro.
func (r *PgSessionRepository) FindStale(ctx context.Context, now time.Time) ([]domain.Session, error) {
	const query = `
		SELECT id, user_id, token, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
		       expires_at, created_at, is_active
		FROM sessions
		WHERE expires_at < $1 OR is_active = FALSE
	`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.Token,
			&s.IPAddress,
			&s.UserAgent,
			&s.ExpiresAt,
			&s.CreatedAt,
			&s.IsActive,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PgSessionRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `
		DELETE FROM sessions WHERE id = ANY($1)
	`
	tag, err := r.pool.Exec(ctx, query, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
