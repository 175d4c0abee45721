package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// RoleAdmin is the role that unlocks admin settings in the client
const RoleAdmin = "admin"

// UserID accepts both numeric and string identifiers from the backend
type UserID string

// UnmarshalJSON decodes a JSON number or string into a UserID
func (id *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("user id must be a string or a number")
	}
	*id = UserID(n.String())
	return nil
}

// User is the identity snapshot persisted next to the credentials.
// It only gates client-side screens; the server enforces authorization.
type User struct {
	ID    UserID `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// IsAdmin reports whether the user carries the admin role
func (u *User) IsAdmin() bool {
	return u != nil && strings.EqualFold(u.Role, RoleAdmin)
}

// Session is the canonical credential set produced by login or refresh.
// An empty Refresh means the server did not issue one.
type Session struct {
	Access  string
	Refresh string
	User    *User
}

// Refreshable reports whether the session can obtain a new access credential
func (s Session) Refreshable() bool {
	return s.Refresh != ""
}
