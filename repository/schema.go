package repository

import (
	"context"

	hub "github.com/goliatone/go-auth-hub"
	"github.com/uptrace/bun"
)

var models = []any{
	(*hub.User)(nil),
	(*hub.AuthorizationState)(nil),
	(*hub.OIDCState)(nil),
	(*hub.LinkedAccount)(nil),
	(*hub.IdentityMapping)(nil),
	(*hub.LinkChallenge)(nil),
	(*hub.Job)(nil),
	(*hub.Post)(nil),
}

type index struct {
	model   any
	name    string
	columns []string
}

var indexes = []index{
	{(*hub.LinkChallenge)(nil), "idx_link_challenges_user", []string{"user_id"}},
	{(*hub.IdentityMapping)(nil), "idx_identity_mappings_user", []string{"user_id"}},
	{(*hub.Job)(nil), "idx_jobs_status_created", []string{"status", "created_at"}},
	{(*hub.Post)(nil), "idx_posts_user_created", []string{"user_id", "created_at"}},
}

// Migrate creates the hub tables and indexes when they do not exist.
func Migrate(ctx context.Context, db *bun.DB) error {
	return runInTx(ctx, db, func(ctx context.Context, tx bun.Tx) error {
		for _, model := range models {
			if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return internal(err, "failed to create table")
			}
		}

		for _, idx := range indexes {
			_, err := tx.NewCreateIndex().
				Model(idx.model).
				Index(idx.name).
				IfNotExists().
				Column(idx.columns...).
				Exec(ctx)
			if err != nil {
				return internal(err, "failed to create index")
			}
		}
		return nil
	})
}
