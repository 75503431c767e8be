package session

// Snapshot is the persisted form of an authenticated identity.
//
// Role is kept as its wire string; the engine parses it into its closed enum.
type Snapshot struct {
	Email    string
	Role     string
	TenantID string
}

// IsZero reports whether s carries no identity.
func (s Snapshot) IsZero() bool {
	return s.Email == "" && s.Role == "" && s.TenantID == ""
}
