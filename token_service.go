package hub

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// DefaultSessionTTL is used when Issue is called without a ttl
const DefaultSessionTTL = time.Hour

// SessionClaims is the signed assertion {sub, iat, exp}
type SessionClaims struct {
	jwt.RegisteredClaims
}

// SessionIssuer mints and verifies HS256 bearer sessions. It keeps no
// state beyond the signing key, so sessions cannot be revoked before
// they expire.
type SessionIssuer struct {
	signingKey []byte
	defaultTTL time.Duration
	now        Clock
	logger     Logger
}

// SessionIssuerOption configures a SessionIssuer
type SessionIssuerOption func(*SessionIssuer)

// WithSessionClock overrides the issuer clock
func WithSessionClock(now Clock) SessionIssuerOption {
	return func(s *SessionIssuer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionTTL sets the ttl used when Issue gets a zero ttl
func WithSessionTTL(ttl time.Duration) SessionIssuerOption {
	return func(s *SessionIssuer) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithSessionLogger sets the logger
func WithSessionLogger(logger Logger) SessionIssuerOption {
	return func(s *SessionIssuer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionIssuer creates a new SessionIssuer
func NewSessionIssuer(signingKey []byte, opts ...SessionIssuerOption) *SessionIssuer {
	s := &SessionIssuer{
		signingKey: signingKey,
		defaultTTL: DefaultSessionTTL,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue signs {sub, iat, exp = iat + ttl}
func (s *SessionIssuer) Issue(subject string, ttl time.Duration) (string, error) {
	if len(s.signingKey) == 0 {
		return "", errors.New("session signing key is not configured", errors.CategoryInternal).
			WithTextCode(TextCodeInternal).
			WithCode(errors.CodeInternal)
	}
	if subject == "" {
		return "", errors.New("session subject is required", errors.CategoryInternal).
			WithTextCode(TextCodeInternal).
			WithCode(errors.CodeInternal)
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	// NumericDate keeps whole seconds; truncating here keeps exp - iat == ttl
	issuedAt := s.now().Truncate(time.Second)
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign session").
			WithTextCode(TextCodeInternal).
			WithCode(errors.CodeInternal)
	}

	return signed, nil
}

// Verify returns the session subject. Every failure is reported as
// ErrUnauthenticated without saying which check failed.
func (s *SessionIssuer) Verify(token string) (string, error) {
	if token == "" || len(s.signingKey) == 0 {
		return "", ErrUnauthenticated
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		s.logger.Debug("session verification failed: %s", err)
		return "", ErrUnauthenticated
	}

	if !parsed.Valid || claims.Subject == "" {
		return "", ErrUnauthenticated
	}

	return claims.Subject, nil
}
