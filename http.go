package hub

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-hub/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

const (
	// HeaderAPIKey carries the hub API key on service routes
	HeaderAPIKey = "X-API-Key"
	// HeaderInternalAPIKey carries the internal key on internal routes
	HeaderInternalAPIKey = "X-Internal-API-Key"

	serviceCallerKey = "service_caller"
)

// RouteAuthenticator builds the guards protecting each route group and
// renders errors as {"ok": false, "error": <text code>}.
type RouteAuthenticator struct {
	orch         *Orchestrator
	Logger       Logger
	ErrorHandler func(c *fiber.Ctx, err error) error
}

// NewRouteAuthenticator returns guards backed by orch.
func NewRouteAuthenticator(orch *Orchestrator) *RouteAuthenticator {
	a := &RouteAuthenticator{
		orch:   orch,
		Logger: orch.logger,
	}
	a.ErrorHandler = a.defaultErrHandler
	return a
}

// SessionRequired rejects requests without a valid session bearer token.
func (a *RouteAuthenticator) SessionRequired() fiber.Handler {
	return jwtware.New(jwtware.Config{
		Verifier:        a.orch,
		ContextKey:      UserIDKey,
		ErrorHandler:    a.sessionErrHandler,
		ContextEnricher: WithUserID,
	})
}

// SessionOptional authenticates a session when one is presented.
func (a *RouteAuthenticator) SessionOptional() fiber.Handler {
	return jwtware.New(jwtware.Config{
		Verifier:        a.orch,
		ContextKey:      UserIDKey,
		ErrorHandler:    a.sessionErrHandler,
		ContextEnricher: WithUserID,
		Optional:        true,
	})
}

// ServiceRequired accepts the hub API key in X-API-Key or as a bearer.
func (a *RouteAuthenticator) ServiceRequired() fiber.Handler {
	return jwtware.Secret(jwtware.SecretConfig{
		Lookup:       "header:" + HeaderAPIKey + ",header:" + fiber.HeaderAuthorization,
		Check:        a.orch.AuthenticateService,
		ErrorHandler: a.ErrorHandler,
	})
}

// InternalRequired accepts the service token as a bearer or the internal
// API key header.
func (a *RouteAuthenticator) InternalRequired() fiber.Handler {
	return jwtware.Secret(jwtware.SecretConfig{
		Lookup:       "header:" + fiber.HeaderAuthorization + ",header:" + HeaderInternalAPIKey,
		Check:        a.orch.AuthenticateInternal,
		ErrorHandler: a.ErrorHandler,
	})
}

// ServiceOrSession routes requests carrying X-API-Key through the service
// check and everything else through the session check.
func (a *RouteAuthenticator) ServiceOrSession() fiber.Handler {
	return a.serviceOr(a.SessionRequired())
}

// ServiceOrOptionalSession is ServiceOrSession for routes that anonymous
// callers may also use.
func (a *RouteAuthenticator) ServiceOrOptionalSession() fiber.Handler {
	return a.serviceOr(a.SessionOptional())
}

func (a *RouteAuthenticator) serviceOr(session fiber.Handler) fiber.Handler {
	service := a.ServiceRequired()

	return func(c *fiber.Ctx) error {
		if c.Get(HeaderAPIKey) != "" {
			c.Locals(serviceCallerKey, true)
			return service(c)
		}
		return session(c)
	}
}

// IsServiceCaller reports whether the request passed the service check
// of ServiceOrSession.
func IsServiceCaller(c *fiber.Ctx) bool {
	ok, _ := c.Locals(serviceCallerKey).(bool)
	return ok
}

func (a *RouteAuthenticator) sessionErrHandler(c *fiber.Ctx, err error) error {
	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		return a.ErrorHandler(c, ErrLoginRequired)
	}
	return a.ErrorHandler(c, err)
}

func (a *RouteAuthenticator) defaultErrHandler(c *fiber.Ctx, err error) error {
	richErr := asRichError(err)

	status := richErr.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		a.Logger.Error("request %s %s failed: %s %s", c.Method(), c.Path(), richErr.Error(), print.MaybePrettyJSON(richErr.Metadata))
	} else {
		a.Logger.Debug("request %s %s rejected: %s %s", c.Method(), c.Path(), richErr.TextCode, print.MaybePrettyJSON(richErr.Metadata))
	}

	code := richErr.TextCode
	if code == "" {
		code = TextCodeInternal
		if status < http.StatusInternalServerError {
			code = TextCodeInvalidRequest
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"ok":    false,
		"error": code,
	})
}

// FiberErrorHandler adapts the renderer for fiber.Config.ErrorHandler so
// routing errors share the same body shape.
func (a *RouteAuthenticator) FiberErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return a.ErrorHandler(c, err)
	}
}

func asRichError(err error) *errors.Error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			return withMetadata(ErrNotFound, map[string]any{"path": fiberErr.Message})
		case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
			return withMetadata(ErrInvalidRequest, map[string]any{"reason": fiberErr.Message}).WithCode(fiberErr.Code)
		}
	}

	return errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
		WithTextCode(TextCodeInternal).
		WithCode(errors.CodeInternal)
}
