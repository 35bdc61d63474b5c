package models

import "time"

// User represents a mail account known to the directory.
// PasswordHash is empty for accounts that can only authenticate through
// federation or proxy trust (no usable local password).
type User struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	Localpart    string    `db:"localpart"`
	DomainName   string    `db:"domain_name"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// HasUsablePassword reports whether local password login is possible for this account
func (u *User) HasUsablePassword() bool {
	return u.PasswordHash != ""
}
