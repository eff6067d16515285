package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validation errors.
var (
	// ErrInvalidName indicates a catalog name has the wrong format.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidSubject indicates a subject prefix cannot be published to.
	ErrInvalidSubject = errors.New("invalid subject prefix")
)

// namePattern matches rule-set names: lowercase alphanumeric with '-' and
// '_', starting with a letter or digit, at most 64 chars.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName checks that name is a usable catalog name. field names the
// value in the error.
func ValidateName(name, field string) error {
	if name == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidName, field)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %s %q must be lowercase alphanumeric with '-' or '_' (1-64 chars)", ErrInvalidName, field, name)
	}
	return nil
}

// ValidateSubjectPrefix checks that prefix is a literal dot-separated NATS
// subject: no empty tokens, no wildcards, no whitespace.
func ValidateSubjectPrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	for i, tok := range strings.Split(prefix, ".") {
		switch {
		case tok == "":
			return fmt.Errorf("%w: %q has an empty token at position %d", ErrInvalidSubject, prefix, i)
		case strings.ContainsAny(tok, "*>"):
			return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidSubject, prefix)
		case strings.ContainsAny(tok, " \t\r\n"):
			return fmt.Errorf("%w: %q contains whitespace", ErrInvalidSubject, prefix)
		}
	}
	return nil
}
