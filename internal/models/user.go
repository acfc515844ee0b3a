package models

// CachedUser is a locally cached snapshot of a remote user profile, kept so
// that entity reads never need the network for author display data.
type CachedUser struct {
	ID          string `db:"id" json:"id"`
	Username    string `db:"username" json:"username"`
	DisplayName string `db:"display_name" json:"display_name,omitempty"`
	AvatarRef   string `db:"avatar_ref" json:"avatar_ref,omitempty"`
	FetchedAt   int64  `db:"fetched_at" json:"fetched_at"`
}

// TableName returns the table name for CachedUser.
func (CachedUser) TableName() string {
	return "users_cache"
}
