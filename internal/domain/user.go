package domain

import "time"

const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"

	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Active reporta si el usuario puede seguir autenticando.
func (u User) Active() bool {
	return u.Status == UserStatusActive
}

// UserIdentity es la identidad resuelta a partir de una sesion valida.
// Role proviene de la consulta fresca al usuario, no del snapshot.
type UserIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
