package hub

import (
	"context"
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var botUsernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{2,63}$`)

// ProfileUpdate lists the profile fields a session may change. A messaging
// handle can only be attached through a link challenge.
type ProfileUpdate struct {
	MessagingID *string `json:"telegram_id"`
}

// ChallengeTicket is handed to the user to complete a link challenge out
// of band.
type ChallengeTicket struct {
	Nonce        string `json:"nonce"`
	ExpiresIn    int    `json:"expires_in"`
	StartCommand string `json:"start_command"`
	BotLink      string `json:"bot_link,omitempty"`
}

// ChallengeCompletion is reported by the messaging bot once the user sent
// the start command.
type ChallengeCompletion struct {
	Nonce          string `json:"nonce"`
	ExternalID     string `json:"telegram_user_id"`
	ExternalHandle string `json:"telegram_username"`
}

// Profile returns the user record of the session user.
func (o *Orchestrator) Profile(ctx context.Context, userID string) (*User, error) {
	return o.RequireUser(ctx, userID)
}

// UpdateProfile applies a profile patch.
func (o *Orchestrator) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*User, error) {
	if update.MessagingID != nil {
		return nil, ErrVerificationRequired
	}
	return o.RequireUser(ctx, userID)
}

// DetachHandle removes the messaging handle. Issued sessions stay valid.
func (o *Orchestrator) DetachHandle(ctx context.Context, userID string) (*User, error) {
	if _, err := o.RequireUser(ctx, userID); err != nil {
		return nil, err
	}

	if err := o.store.ClearMessagingHandle(ctx, userID); err != nil {
		return nil, err
	}

	o.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventHandleDetached,
		UserID:    userID,
	})

	return o.store.GetUser(ctx, userID)
}

// CreateChallenge starts a link challenge for the user. botUsername is
// optional and only used to build a deep link.
func (o *Orchestrator) CreateChallenge(ctx context.Context, userID, botUsername string) (*ChallengeTicket, error) {
	err := validation.Validate(botUsername, validation.Match(botUsernamePattern))
	if err != nil {
		return nil, validationError(fmt.Errorf("bot_username: %w", err))
	}

	if _, err := o.RequireUser(ctx, userID); err != nil {
		return nil, err
	}

	challenge, err := o.verifier.Create(ctx, userID, 0)
	if err != nil {
		return nil, err
	}

	ticket := &ChallengeTicket{
		Nonce:        challenge.Nonce,
		ExpiresIn:    int(challenge.ExpiresAt.Sub(challenge.CreatedAt) / time.Second),
		StartCommand: "/start " + challenge.Nonce,
	}
	if botUsername != "" {
		ticket.BotLink = fmt.Sprintf("https://t.me/%s?start=%s", botUsername, challenge.Nonce)
	}

	return ticket, nil
}

// CompleteChallenge attaches the external handle to the user who created
// the challenge. A malformed external id counts as a failed attempt.
func (o *Orchestrator) CompleteChallenge(ctx context.Context, req ChallengeCompletion) (string, error) {
	if req.Nonce == "" {
		return "", ErrInvalidNonce
	}

	maxAttempts := o.config.GetLinkMaxAttempts()

	if err := validation.Validate(req.ExternalID, validation.Required, is.Digit); err != nil {
		status, err := o.verifier.RecordFailure(ctx, req.Nonce, maxAttempts)
		if err != nil {
			return "", err
		}
		return "", challengeError(status)
	}

	status, userID, err := o.verifier.Consume(ctx, req.Nonce, maxAttempts)
	if err != nil {
		return "", err
	}
	if status != ChallengeOK {
		return "", challengeError(status)
	}

	if err := o.store.SetMessagingHandle(ctx, userID, req.ExternalID, req.ExternalHandle); err != nil {
		return "", err
	}

	o.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventHandleLinked,
		UserID:    userID,
		Metadata:  map[string]any{"telegram_user_id": req.ExternalID},
	})

	return userID, nil
}

func challengeError(status ChallengeStatus) error {
	switch status {
	case ChallengeExpired:
		return ErrExpiredNonce
	case ChallengeMaxAttempts:
		return ErrMaxAttemptsReached
	case ChallengeFailed:
		return ErrInvalidExternalID
	default:
		return ErrInvalidNonce
	}
}
