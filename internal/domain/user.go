package domain

// User is an entry from the external user directory.
// Online status is not part of the directory record; it is derived from
// presence events and only surfaces in session snapshots.
type User struct {
	ID   string `json:"_id" validate:"required"`
	Name string `json:"name"`
}

// DisplayName returns the user's name, falling back to the id.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
