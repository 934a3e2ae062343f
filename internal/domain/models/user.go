package models

import "time"

// User is the stored identity record. PassHash never leaves the service layer.
type User struct {
	ID        string
	Email     string
	Name      string
	PassHash  []byte
	IsPro     bool
	CreatedAt time.Time
}

// UserInfo is the public projection of a user.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	IsPro bool   `json:"isPro"`
}

func (u User) Info() UserInfo {
	return UserInfo{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		IsPro: u.IsPro,
	}
}
