package logging

import (
	"regexp"
	"strings"
	"sync"
)

// minSecretLen keeps very short strings from being treated as secrets,
// which would shred unrelated log text.
const minSecretLen = 8

// Sanitizer redacts sensitive information from log messages.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	secrets  []string
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Redmine API key header echoed in errors or dumps
		`(?i)x-redmine-api-key["'\s:=]+[A-Za-z0-9]+`,
		// Redmine keys are 40 hex characters
		`\b[0-9a-f]{40}\b`,
		// Generic Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic API keys
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic passwords
		`(?i)password["'\s:=]+[^\s"']{8,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// AddSecret registers a literal value to redact.
func (s *Sanitizer) AddSecret(secret string) {
	if len(secret) < minSecretLen {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.secrets {
		if existing == secret {
			return
		}
	}
	s.secrets = append(s.secrets, secret)
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := input
	for _, secret := range s.secrets {
		result = strings.ReplaceAll(result, secret, s.redacted)
	}
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}
