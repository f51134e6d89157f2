package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	hub "github.com/goliatone/go-auth-hub"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Option configures the bun stores
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for record timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func notFound(err error, meta map[string]any) error {
	clone := hub.ErrNotFound.Clone()
	if clone == nil {
		clone = hub.ErrNotFound
	}
	if err != nil {
		clone.Source = err
	}
	return clone.WithMetadata(meta)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func internal(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithTextCode(hub.TextCodeInternal).
		WithCode(goerrors.CodeInternal)
}

func expectOneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func runInTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return db.RunInTx(ctx, nil, fn)
	}
}
