package hub

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds hub options
type Config interface {
	GetSigningKey() string
	GetSessionTTL() int
	GetAllowNewUsers() bool
	GetServiceSecrets() []string
	GetInternalSecrets() []string
	GetPublicBaseURL() string
	GetFrontendBaseURL() string
	GetLinkChallengeTTL() int
	GetLinkMaxAttempts() int
}

// Clock returns the current instant. Tests swap it to move time.
type Clock func() time.Time

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] HUB "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] HUB "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] HUB "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
