package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ferchox920/sessiond/internal/domain"
)

const (
	sessionKeyPrefix   = "session:"
	userSessionsPrefix = "user_sessions:"
)

// ErrMalformedSession indica que el payload cacheado no se pudo parsear.
// El llamador decide si borra la clave; el cache no la toca solo.
var ErrMalformedSession = errors.New("malformed session payload")

// SessionCache es el cliente del fast store: claves JSON con TTL por sesion
// y un hash por usuario que indexa sus sesiones vivas.
type SessionCache struct {
	client *redis.Client
}

func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{client: client}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func userSessionsKey(userID string) string {
	return userSessionsPrefix + userID
}

// SaveSession escribe el registro completo bajo session:<id> con el TTL dado.
func (c *SessionCache) SaveSession(ctx context.Context, session domain.Session, ttl time.Duration) error {
	if session.ID == "" || session.UserID == "" {
		return errors.New("session cache: missing id or user_id")
	}
	if ttl <= 0 {
		return errors.New("session cache: ttl must be positive")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	return c.client.Set(ctx, sessionKey(session.ID), data, ttl).Err()
}

// GetSession devuelve (nil, nil) en miss y ErrMalformedSession si el
// payload existe pero no parsea.
func (c *SessionCache) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	val, err := c.client.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session domain.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, ErrMalformedSession
	}
	return &session, nil
}

func (c *SessionCache) DeleteSession(ctx context.Context, id string) error {
	return c.client.Del(ctx, sessionKey(id)).Err()
}

// AddUserSession agrega la sesion al indice del usuario y renueva su TTL.
// El indice caduca junto con la sesion mas longeva que lo toco.
func (c *SessionCache) AddUserSession(ctx context.Context, userID, sessionID string, createdAt time.Time, ttl time.Duration) error {
	key := userSessionsKey(userID)
	if err := c.client.HSet(ctx, key, sessionID, strconv.FormatInt(createdAt.Unix(), 10)).Err(); err != nil {
		return err
	}
	return c.client.Expire(ctx, key, ttl).Err()
}

func (c *SessionCache) RemoveUserSession(ctx context.Context, userID, sessionID string) error {
	return c.client.HDel(ctx, userSessionsKey(userID), sessionID).Err()
}

// UserSessionIDs enumera los ids registrados en el indice del usuario.
func (c *SessionCache) UserSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := c.client.HKeys(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *SessionCache) DeleteUserIndex(ctx context.Context, userID string) error {
	return c.client.Del(ctx, userSessionsKey(userID)).Err()
}

// TouchUserIndex extiende el TTL del indice sin modificar sus miembros.
// Devuelve false si el indice ya no existe y hay que reconstruir la entrada.
func (c *SessionCache) TouchUserIndex(ctx context.Context, userID string, ttl time.Duration) (bool, error) {
	return c.client.Expire(ctx, userSessionsKey(userID), ttl).Result()
}

// DeleteMatching borra por patron usando SCAN; pensado para limpiezas
// administrativas, no para el camino caliente.
func (c *SessionCache) DeleteMatching(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
