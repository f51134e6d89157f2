package hub

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// UserIDKey is the fiber Locals key holding the authenticated user id
const UserIDKey = "user_id"

var userCtxKey = &contextKey{"user_id"}

type contextKey struct {
	name string
}

// WithUserID sets the authenticated user id in the given context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey, userID)
}

// UserIDFromContext finds the authenticated user id in the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(userCtxKey).(string)
	return raw, ok && raw != ""
}

// LocalUserID reads the user id stored by the session middleware.
func LocalUserID(c *fiber.Ctx) (string, bool) {
	raw, ok := c.Locals(UserIDKey).(string)
	return raw, ok && raw != ""
}
