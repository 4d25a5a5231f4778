package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: resource conflict")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrUnauthorized       = errors.New("auth: unauthorized")
	ErrEmailNotFound      = errors.New("auth: email not found")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// ErrInvalidToken is the class every token verification failure belongs to.
var ErrInvalidToken = errors.New("auth: invalid token")

var (
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenSignature = fmt.Errorf("%w: bad signature", ErrInvalidToken)
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrInvalidToken)
)
