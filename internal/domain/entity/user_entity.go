package entity

// User is the aggregate root for user domain
// Password always holds a bcrypt hash, never the plaintext.
//
// JSON tags describe the on-disk store document, not the API response.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserPatch carries the fields of a partial update. Nil fields are left untouched.
type UserPatch struct {
	Name     *string
	Email    *string
	Password *string
}

// Apply shallow-merges the non-nil fields of p onto u.
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Password != nil {
		u.Password = *p.Password
	}
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Password == nil
}
