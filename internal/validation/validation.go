package validation

import (
	"net/mail"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	defaultPasswordMin = 10
	// passwordFloor is the smallest PASSWORD_MIN_LENGTH honoured.
	passwordFloor     = 8
	defaultMessageMax = 4000
)

var nameRe = regexp.MustCompile(`^[\p{L}\p{M}' .-]{1,64}$`)

// envLimit reads a positive integer from key, falling back to def when the
// variable is unset, malformed or below floor.
func envLimit(key string, def, floor int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < floor {
		return def
	}
	return n
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail accepts a bare RFC 5322 address. Display names are refused.
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ValidateName accepts letters, spaces, apostrophes, dots and hyphens.
func ValidateName(name string) bool {
	name = NormalizeName(name)
	return name != "" && nameRe.MatchString(name)
}

func ValidateRole(role string) bool {
	switch role {
	case "instructor", "student":
		return true
	}
	return false
}

func PasswordMinLength() int {
	return envLimit("PASSWORD_MIN_LENGTH", defaultPasswordMin, passwordFloor)
}

func ValidatePassword(password string) bool {
	return len(password) >= PasswordMinLength()
}

// MaxMessageLength is counted in runes.
func MaxMessageLength() int {
	return envLimit("MAX_MESSAGE_LENGTH", defaultMessageMax, 1)
}

// ValidateMessageText reports whether text is non-blank and within the
// configured length limit.
func ValidateMessageText(text string) bool {
	text = strings.TrimSpace(text)
	return text != "" && utf8.RuneCountInString(text) <= MaxMessageLength()
}
