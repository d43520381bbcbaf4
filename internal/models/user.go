// internal/models/user.go
package models

// User mirrors the identity the authentication layer vouches for. The core only reads it to
// resolve submitter emails.
type User struct {
	BaseModel
	Email      string   `json:"email" gorm:"uniqueIndex;size:255;not null"`
	GivenName  string   `json:"given_name" gorm:"size:100"`
	FamilyName string   `json:"family_name" gorm:"size:100"`
	Role       UserRole `json:"role" gorm:"type:varchar(20);not null"`
	StateCode  string   `json:"state_code,omitempty" gorm:"size:2"`
}
