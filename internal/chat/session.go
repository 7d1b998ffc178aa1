// Package chat holds the synchronization core: resolving the session into a
// profile, keeping the chat roster fresh, streaming a single chat's messages,
// and composing new ones. State is fed by the database and patched by change
// feed events.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/periskope/periskope/internal/database"
	"github.com/periskope/periskope/internal/stats"
	"github.com/periskope/periskope/internal/types"
)

// Session is the authenticated identity as reported by the auth layer,
// before it is resolved into a profile row.
type Session struct {
	UserId   string
	Email    string
	FullName string
}

const defaultFullName = "User"

type SessionResolver struct {
	db    database.PeriskopeRepository
	log   *log.Logger
	stats stats.StatsProvider
}

func NewSessionResolver(db database.PeriskopeRepository, logger *log.Logger, sp stats.StatsProvider) *SessionResolver {
	return &SessionResolver{
		db:    db,
		log:   logger,
		stats: sp,
	}
}

// Resolve maps a session to its profile, provisioning the profile on the
// first visit. Missing session metadata falls back to a generic display name
// and an empty email. Returns ErrNoSession when there is no session.
func (sr *SessionResolver) Resolve(ctx context.Context, sess Session) (types.User, error) {
	if sess.UserId == "" {
		return types.User{}, ErrNoSession
	}

	profile, err := sr.db.GetProfile(ctx, sess.UserId)
	if err == nil {
		sr.stats.Incr(stats.MetricSessionsResolved)
		return UserFromProfile(profile), nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("get profile: %w", err)
	}

	// first authenticated visit for this identity
	fullName := sess.FullName
	if fullName == "" {
		fullName = defaultFullName
	}

	sr.log.Printf("provisioning profile for user %q", sess.UserId)
	created, err := sr.db.CreateProfile(ctx, database.CreateProfileParams{
		Id:       sess.UserId,
		FullName: fullName,
		Email:    sess.Email,
	})
	if err != nil {
		return types.User{}, fmt.Errorf("create profile: %w", err)
	}

	sr.stats.Incr(stats.MetricProfilesCreated)
	sr.stats.Incr(stats.MetricSessionsResolved)

	return UserFromProfile(created), nil
}
