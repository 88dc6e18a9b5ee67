package auth

// IdentityProvider resolves a username to its password hash.
type IdentityProvider interface {
	// PasswordHash returns the stored bcrypt hash for a user, or false if
	// the user does not exist.
	PasswordHash(username string) (string, bool)
}

// StaticUsers is the fixed identity map loaded from configuration.
type StaticUsers struct {
	hashes map[string]string
}

var _ IdentityProvider = (*StaticUsers)(nil)

// Demo identities (admin/admin123, user/user123), used when no users are
// configured. Not for production.
var demoUsers = []UserConfig{
	{Username: "admin", PasswordHash: "$2a$10$xQ3jKYP2EP8RKmFKpzFKLeXRqLFPJlL3hI4XMRNz.XtZLHOLADLay"},
	{Username: "user", PasswordHash: "$2a$10$fFD8MpZLKpFKzMNZvdYXm.R0qQDqF8XwL9pT8w/N7eYgFZ0gkMJ1u"},
}

// NewStaticUsers builds the identity map, falling back to the demo users
// when the list is empty.
func NewStaticUsers(users []UserConfig) *StaticUsers {
	if len(users) == 0 {
		users = demoUsers
	}
	s := &StaticUsers{hashes: make(map[string]string, len(users))}
	for _, u := range users {
		s.hashes[u.Username] = u.PasswordHash
	}
	return s
}

func (s *StaticUsers) PasswordHash(username string) (string, bool) {
	h, ok := s.hashes[username]
	return h, ok
}
