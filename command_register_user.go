package hub

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// RegisterUserResult is filled by RegisterUserHandler
type RegisterUserResult struct {
	User    *User
	Created bool
}

type RegisterUserMessage struct {
	UserID string              `json:"user_id"`
	Result *RegisterUserResult `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "hub.user.register" }

// Validate will validate the message
func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.UserID, validation.Required, validation.Length(1, 128)),
	)
}

type RegisterUserHandler struct {
	orch *Orchestrator
}

// NewRegisterUserHandler returns a handler creating users through orch
func NewRegisterUserHandler(orch *Orchestrator) *RegisterUserHandler {
	return &RegisterUserHandler{orch: orch}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	event.UserID = strings.TrimSpace(event.UserID)
	if err := event.Validate(); err != nil {
		return validationError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, created, err := h.orch.Register(ctx, event.UserID)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not register user")
	}

	if event.Result != nil {
		event.Result.User = user
		event.Result.Created = created
	}

	return nil
}
