package model

// User is identified by email. TotalBytes is the quota counter maintained by
// the ledger; it never goes negative.
type User struct {
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Admin      bool   `json:"admin"`
	TotalBytes int64  `json:"totalBytes"`
}

// Group is only read by the access filter.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Creator string   `json:"creator"`
	Members []string `json:"members"`
}

// Actor is the user on whose behalf an operation runs. Admin and AdminMode are
// explicit so authorization never consults ambient state.
type Actor struct {
	Email     string `json:"email"`
	Admin     bool   `json:"admin"`
	AdminMode bool   `json:"adminMode"`
}

// Privileged reports whether access policies are bypassed for the actor.
func (a Actor) Privileged() bool {
	return a.Admin || a.AdminMode
}
