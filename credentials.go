package trackauth

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMinPasswordLength is the shortest password accepted.
const DefaultMinPasswordLength = 6

const maxPasswordLength = 72 // bcrypt ignores anything longer

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Credentials are the email/password pair submitted on register and login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordPolicy holds the rules applied to new passwords.
type PasswordPolicy struct {
	MinLength int
}

func (p PasswordPolicy) minLength() int {
	if p.MinLength > 0 {
		return p.MinLength
	}
	return DefaultMinPasswordLength
}

// ValidateEmail checks that email is present and well formed.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return validationError("email", "Email is required")
	}
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return validationError("email", "Invalid email format")
	}
	return nil
}

// Validate checks a new password against the policy.
func (p PasswordPolicy) Validate(password string) error {
	if password == "" {
		return validationError("password", "Password is required")
	}
	if n := p.minLength(); len(password) < n {
		return validationError("password", fmt.Sprintf("Password must be at least %d characters", n))
	}
	if len(password) > maxPasswordLength {
		return validationError("password", fmt.Sprintf("Password must be at most %d characters", maxPasswordLength))
	}
	return nil
}

// ValidateCredentials validates a registration request.
func (p PasswordPolicy) ValidateCredentials(creds Credentials) error {
	if err := ValidateEmail(creds.Email); err != nil {
		return err
	}
	return p.Validate(creds.Password)
}
