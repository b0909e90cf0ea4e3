package auth

import "time"

// User represents an account that can authenticate locally.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subject is the user payload carried in token claims.
type Subject struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
}

// SubjectOf builds the claims payload for u.
func SubjectOf(u *User) Subject {
	return Subject{UserID: u.ID, Email: u.Email}
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
