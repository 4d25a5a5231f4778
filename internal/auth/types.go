package auth

import "time"

// User is an account that can log in. RoleID points at exactly one role.
// PasswordHash never leaves the process: it is skipped by JSON encoding, so cached
// copies and API responses do not carry it.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	RoleID       string    `json:"role_id"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a named bundle of rights. Rights is the comma-joined form stored in the database.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Rights      string    `json:"rights"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
