package user

import "time"

// Collection is the document collection holding profiles.
const Collection = "users"

// Profile is a user's public record. ID equals the auth identity id.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Label is the text shown for the user in lists: the display name, or the
// email when no name is set.
func (p Profile) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}
