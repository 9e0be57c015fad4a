package models

// Credentials returned by the gateway on sign-in or oauth code exchange
// Refresh token never appears here: the gateway delivers it as an http-only cookie
type Credentials struct {
	AccessToken string `json:"access_token"`
	User        *User  `json:"user,omitempty"`
}
