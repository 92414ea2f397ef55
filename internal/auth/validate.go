package auth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

const (
	usernameMinLen = 3
	usernameMaxLen = 50
	passwordMinLen = 8
	passwordMaxLen = 128
)

// reservedUsernames can never be registered.
var reservedUsernames = map[string]struct{}{
	"admin": {}, "administrator": {}, "root": {}, "system": {},
	"support": {}, "help": {}, "api": {}, "www": {}, "mail": {},
	"postmaster": {}, "security": {}, "cadence": {}, "owner": {},
}

func validateUsername(username string) error {
	if len(username) < usernameMinLen || len(username) > usernameMaxLen {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidInput, usernameMinLen, usernameMaxLen)
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return fmt.Errorf("%w: username may contain letters, digits, and underscore", ErrInvalidInput)
		}
	}
	if _, reserved := reservedUsernames[strings.ToLower(username)]; reserved {
		return fmt.Errorf("%w: username is reserved", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < passwordMinLen || len(password) > passwordMaxLen {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidInput, passwordMinLen, passwordMaxLen)
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return fmt.Errorf("%w: password needs upper, lower, digit, and symbol characters", ErrInvalidInput)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	return email, nil
}
