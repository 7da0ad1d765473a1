package game

import (
	"errors"
	"regexp"
	"strings"

	"stockpicks/internal/quotes"
)

var (
	ErrInvalidSymbol      = errors.New("symbol must be 1-5 uppercase letters with an optional class suffix")
	ErrInvalidUsername    = errors.New("username must be 3-24 letters, digits or underscores")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrWeekNotFound       = errors.New("week not found")
	ErrInvalidWeekRange   = errors.New("week end must be after week start")
	ErrWeekClosed         = errors.New("week is closed for picks")
	ErrWeekInProgress     = errors.New("week has not ended yet")
	ErrPickExists         = errors.New("pick already submitted for this week")
	ErrTxConflict         = errors.New("transaction conflict, retry")
)

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,24}$`)

// ValidateSymbol returns the canonical upper-case form of symbol.
func ValidateSymbol(symbol string) (string, error) {
	out, err := quotes.NormalizeSymbol(symbol)
	if err != nil {
		return "", ErrInvalidSymbol
	}
	return out, nil
}

func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if !usernameRE.MatchString(username) {
		return "", ErrInvalidUsername
	}
	return username, nil
}
