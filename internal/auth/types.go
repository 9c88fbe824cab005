package auth

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	SessionID    string
	ResetToken   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName returns the name shown for the user: first and last name when
// set, whichever is present otherwise, and the email as a last resort.
func (u User) DisplayName() string {
	switch {
	case u.FirstName == "" && u.LastName == "":
		return u.Email
	case u.LastName == "":
		return u.FirstName
	case u.FirstName == "":
		return u.LastName
	default:
		return u.FirstName + " " + u.LastName
	}
}

type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}

// NewUser carries the optional profile fields accepted at creation time.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ProfileUpdate lists the profile fields a caller may change; nil leaves the
// field untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// Field names a user attribute addressable through Filter and Changes.
type Field string

const (
	FieldID           Field = "id"
	FieldEmail        Field = "email"
	FieldPasswordHash Field = "password_hash"
	FieldFirstName    Field = "first_name"
	FieldLastName     Field = "last_name"
	FieldSessionID    Field = "session_id"
	FieldResetToken   Field = "reset_token"
)

func (f Field) valid() bool {
	switch f {
	case FieldID, FieldEmail, FieldPasswordHash, FieldFirstName, FieldLastName, FieldSessionID, FieldResetToken:
		return true
	}
	return false
}

// Filter matches users whose fields equal every given value.
type Filter map[Field]string

// Changes maps fields to new values. A nil value clears the field.
type Changes map[Field]*string

// Value returns a pointer to v for use in Changes.
func Value(v string) *string {
	return &v
}

func (u User) field(f Field) string {
	switch f {
	case FieldID:
		return u.ID
	case FieldEmail:
		return u.Email
	case FieldPasswordHash:
		return u.PasswordHash
	case FieldFirstName:
		return u.FirstName
	case FieldLastName:
		return u.LastName
	case FieldSessionID:
		return u.SessionID
	case FieldResetToken:
		return u.ResetToken
	}
	return ""
}

func (u *User) set(f Field, v *string) {
	val := ""
	if v != nil {
		val = *v
	}
	switch f {
	case FieldEmail:
		u.Email = val
	case FieldPasswordHash:
		u.PasswordHash = val
	case FieldFirstName:
		u.FirstName = val
	case FieldLastName:
		u.LastName = val
	case FieldSessionID:
		u.SessionID = val
	case FieldResetToken:
		u.ResetToken = val
	}
}

func (u User) matches(filter Filter) bool {
	for f, want := range filter {
		if u.field(f) != want {
			return false
		}
	}
	return true
}

func validateFilter(filter Filter) error {
	for f := range filter {
		if !f.valid() {
			return invalidField(f)
		}
	}
	return nil
}

func validateChanges(changes Changes) error {
	for f, v := range changes {
		if !f.valid() || f == FieldID {
			return invalidField(f)
		}
		if (f == FieldEmail || f == FieldPasswordHash) && (v == nil || *v == "") {
			return invalidField(f)
		}
	}
	return nil
}
