package storage

// UserID is the canonical partition key value for per-user collections.
type UserID string

// Account is anything that identifies a user; it lets callers holding a full
// user record pass it where a UserID is expected.
type Account interface {
	AccountID() string
}

// UserOf resolves an account to its partition key.
func UserOf(a Account) UserID {
	if a == nil {
		return ""
	}
	return UserID(a.AccountID())
}

// String returns the raw identifier.
func (u UserID) String() string {
	return string(u)
}

// IsZero reports whether no user is set.
func (u UserID) IsZero() bool {
	return u == ""
}
