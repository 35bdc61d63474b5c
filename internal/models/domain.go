package models

import "time"

// UnlimitedUsers is the sentinel quota meaning a domain accepts any number of accounts
const UnlimitedUsers = -1

// Domain represents a mail domain and its provisioning quota
type Domain struct {
	Name      string    `db:"name"`
	MaxUsers  int       `db:"max_users"`
	CreatedAt time.Time `db:"created_at"`
}

// AtCapacity reports whether the domain's user quota is already met.
// A MaxUsers of UnlimitedUsers never reaches capacity.
func (d *Domain) AtCapacity(userCount int) bool {
	if d.MaxUsers == UnlimitedUsers {
		return false
	}
	return userCount >= d.MaxUsers
}
