package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase from an environment variable or a
// terminal prompt. The first result, value or error, is cached.
type Source struct {
	envVar string
	label  string

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source that checks envVar before prompting for the
// keystore named by label ("operator", "wallet").
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "keystore"
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label}
}

// Get returns the passphrase. A set but blank environment variable is an
// error, as is a blank answer at the prompt.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s passphrase required and no terminal available", s.label)
	}
	fmt.Fprintf(os.Stderr, "Enter %s passphrase: ", s.label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", errors.New(s.label + " passphrase cannot be empty")
	}
	return string(raw), nil
}
