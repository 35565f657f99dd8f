package importer

import (
	"context"
	"log/slog"

	"github.com/byte4ever/bbmigrate/migrate/store"
)

// userResolver maps author emails to destination user
// ids, memoized for the lifetime of one run. Negative
// results are cached too, so unknown emails cost one
// lookup.
type userResolver struct {
	st    store.Store
	cache map[string]*int64

	creator *int64
	ghost   *int64
}

// newUserResolver returns an empty resolver backed by
// st.
func newUserResolver(st store.Store) *userResolver {
	return &userResolver{
		st:    st,
		cache: make(map[string]*int64),
	}
}

// resolve maps email to a destination user id. found is
// false when no user matches. Lookup failures are
// logged and treated as not found, without poisoning
// the cache.
func (u *userResolver) resolve(
	ctx context.Context,
	email string,
) (int64, bool) {
	if cached, ok := u.cache[email]; ok {
		if cached == nil {
			return 0, false
		}

		return *cached, true
	}

	id, found, err := u.st.UserIDByEmail(ctx, email)
	if err != nil {
		slog.Warn(
			"user lookup failed",
			"email", email,
			"error", err,
		)

		return 0, false
	}

	if !found {
		u.cache[email] = nil

		return 0, false
	}

	u.cache[email] = &id

	return id, true
}

// authorFor returns the id stored on created entities:
// the resolved id, or the project creator's id when
// resolution fails. found reports whether the email
// resolved, which drives the attribution-line behavior.
func (u *userResolver) authorFor(
	ctx context.Context,
	email string,
) (int64, bool, error) {
	if id, ok := u.resolve(ctx, email); ok {
		return id, true, nil
	}

	creator, err := u.creatorID(ctx)
	if err != nil {
		return 0, false, err
	}

	return creator, false, nil
}

// creatorID returns the destination project creator's
// id, fetched once per run.
func (u *userResolver) creatorID(
	ctx context.Context,
) (int64, error) {
	if u.creator != nil {
		return *u.creator, nil
	}

	id, err := u.st.CreatorID(ctx)
	if err != nil {
		return 0, err
	}

	u.creator = &id

	return id, nil
}

// ghostID returns the placeholder user id for merge
// events whose committer cannot be resolved.
func (u *userResolver) ghostID(
	ctx context.Context,
) (int64, error) {
	if u.ghost != nil {
		return *u.ghost, nil
	}

	id, err := u.st.GhostUserID(ctx)
	if err != nil {
		return 0, err
	}

	u.ghost = &id

	return id, nil
}
