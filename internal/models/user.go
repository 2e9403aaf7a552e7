package models

import (
	"time"

	"github.com/lib/pq"
)

// User is a registered account. Blocked holds the IDs of users this
// account has blocked; the relation is directional and not transitive.
type User struct {
	ID           string         `db:"id" json:"id"`
	Username     string         `db:"username" json:"username"`
	Email        string         `db:"email" json:"email,omitempty"`
	AvatarURL    string         `db:"avatar_url" json:"avatar_url,omitempty"`
	Blocked      pq.StringArray `db:"blocked" json:"blocked"`
	PasswordHash string         `db:"password_hash" json:"-"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// HasBlocked reports whether the user has blocked the given id.
func (u User) HasBlocked(id string) bool {
	for _, blocked := range u.Blocked {
		if blocked == id {
			return true
		}
	}
	return false
}

// Anonymized returns the placeholder profile shown instead of a peer
// whose relation with the viewer is under an active block. Hiding the
// live name and avatar is a privacy requirement, not presentation.
func (u User) Anonymized() User {
	return User{ID: u.ID, Username: "User"}
}
