package validator

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrInvalidEmail = errors.New("invalid email format")
	ErrInvalidRole  = errors.New("role must be owner or member")
)

// NormalizeEmail validates an invitation address and returns it lower-cased
// and trimmed, the form invitations are stored and matched in.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrInvalidEmail
	}
	if !strings.Contains(parts[1], ".") {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}

	return email, nil
}

func ValidateRole(role string) error {
	switch role {
	case "owner", "member":
		return nil
	default:
		return ErrInvalidRole
	}
}
