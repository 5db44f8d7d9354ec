package model

// Role is the authorization level carried in an access token's "role"
// claim.  Users are owned by an upstream identity service; this service
// only sees the numeric subject and the role.
type Role string

const (
	RoleUser      Role = "USER"      // trades on scenarios
	RoleModerator Role = "MODERATOR" // closes, reviews and resolves
	RoleAdmin     Role = "ADMIN"     // cancels and adjusts balances
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID int64
	Role   Role
}
