package models

// Linked external account (google, email...) as the gateway reports it
type Account struct {
	ID             int64  `json:"id"`
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id,omitempty"`
	Email          string `json:"email,omitempty"`
}

// User as returned by the gateway "who am I" endpoint
// Cached copies are advisory only: never use them to make authorization decisions
type User struct {
	ID          int64     `json:"id" validate:"required"`
	Username    string    `json:"username,omitempty"`
	Nickname    string    `json:"nickname,omitempty"`
	Email       string    `json:"email,omitempty"`
	ProfileImg  string    `json:"profile_img,omitempty"`
	IsActive    bool      `json:"is_active,omitempty"`
	IsSuperuser bool      `json:"is_superuser,omitempty"`
	Accounts    []Account `json:"accounts,omitempty"`
}

// Name to show for the user: nickname when set, username otherwise
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}
