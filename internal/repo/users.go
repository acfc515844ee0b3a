package repo

import (
	"time"

	"github.com/tsengko/pulsefeed-sync/internal/db"
	"github.com/tsengko/pulsefeed-sync/internal/models"
)

// Users is the read-side cache of remote user profiles. Profiles are written
// by the app shell whenever the server echoes author data, so entity reads
// stay locally satisfiable while offline.
type Users struct {
	store *db.Store
}

// NewUsers creates a Users cache repository.
func NewUsers(store *db.Store) *Users {
	return &Users{store: store}
}

// Cache stores or refreshes a profile snapshot.
func (r *Users) Cache(u *models.CachedUser) error {
	if u.FetchedAt == 0 {
		u.FetchedAt = time.Now().UnixMilli()
	}
	return r.store.UpsertCachedUser(u)
}

// Get returns the cached profile for a user id.
func (r *Users) Get(id string) (*models.CachedUser, error) {
	return r.store.GetCachedUser(id)
}
