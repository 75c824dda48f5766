package session

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"direct-chat/internal/chaterr"
)

const maxNameLength = 50

var (
	emailPattern   = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	upperPattern   = regexp.MustCompile(`[A-Z]`)
	lowerPattern   = regexp.MustCompile(`[a-z]`)
	digitPattern   = regexp.MustCompile(`\d`)
	specialPattern = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
)

// Form is the registration form as the user filled it in.
type Form struct {
	FirstName       string
	LastName        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Validate applies the registration rules. It returns nil when the form may
// be submitted. Fields are keyed firstName, lastName, email, password and
// confirmPassword.
func Validate(f Form) *chaterr.ValidationError {
	verr := &chaterr.ValidationError{}

	first := strings.TrimSpace(f.FirstName)
	switch {
	case first == "":
		verr.Add("firstName", "First name is required")
	case utf8.RuneCountInString(first) > maxNameLength:
		verr.Add("firstName", "Max length is 50 characters")
	}

	last := strings.TrimSpace(f.LastName)
	switch {
	case last == "":
		verr.Add("lastName", "Last name is required")
	case utf8.RuneCountInString(last) > maxNameLength:
		verr.Add("lastName", "Max length is 50 characters")
	}

	email := strings.TrimSpace(f.Email)
	switch {
	case email == "":
		verr.Add("email", "Email is required")
	case !emailPattern.MatchString(email):
		verr.Add("email", "Invalid email format")
	}

	switch {
	case utf8.RuneCountInString(f.Password) < 8:
		verr.Add("password", "Password must be at least 8 characters")
	case !upperPattern.MatchString(f.Password):
		verr.Add("password", "Password must contain at least one uppercase letter")
	case !lowerPattern.MatchString(f.Password):
		verr.Add("password", "Password must contain at least one lowercase letter")
	case !digitPattern.MatchString(f.Password):
		verr.Add("password", "Password must contain at least one digit")
	case !specialPattern.MatchString(f.Password):
		verr.Add("password", "Password must contain at least one special character")
	}

	if f.Password != f.ConfirmPassword {
		verr.Add("confirmPassword", "Passwords do not match")
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

func validateCredentials(identifier, secret string) *chaterr.ValidationError {
	verr := &chaterr.ValidationError{}
	if strings.TrimSpace(identifier) == "" {
		verr.Add("email", "Email is required")
	}
	if secret == "" {
		verr.Add("password", "Password is required")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}
