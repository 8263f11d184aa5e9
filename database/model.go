package database

import (
	"time"
)

const (
	// UnlimitedLimit marks a user whose limit balance is never consumed.
	UnlimitedLimit int64 = -1
	DefaultLimit   int64 = 10
)

const (
	StaffRoleOwner     = "owner"
	StaffRoleModerator = "moderator"
)

type User struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Name         string `json:"name"`
	Exp          int64  `json:"exp"`
	Limit        int64  `json:"limit"`
	Level        int    `json:"level"`
	Registered   bool   `json:"registered"`
	RegName      string `json:"reg_name"`
	Age          int    `json:"age"`
	RegTime      int64  `json:"reg_time"`
	Banned       bool   `json:"banned"`
	Premium      bool   `json:"premium"`
	PremiumUntil int64  `json:"premium_until"` // unix ms, 0 means permanent
	Moderator    bool   `json:"moderator"`
	StaffRole    string `json:"staff_role"`
	Role         string `json:"role"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewUser(id string) *User {
	return &User{
		ID:    id,
		Limit: DefaultLimit,
	}
}

func (u *User) Unlimited() bool {
	return u.Limit == UnlimitedLimit
}

// HasLimit reports whether the balance covers cost.
func (u *User) HasLimit(cost int64) bool {
	return u.Unlimited() || u.Limit >= cost
}

func (u *User) SpendLimit(n int64) {
	if u.Unlimited() || n <= 0 {
		return
	}
	u.Limit -= n
	if u.Limit < 0 {
		u.Limit = 0
	}
}

func (u *User) IsPremium(now time.Time) bool {
	if !u.Premium {
		return false
	}
	return u.PremiumUntil == 0 || now.UnixMilli() < u.PremiumUntil
}

type Chat struct {
	ID        string `gorm:"primaryKey" json:"id"`
	IsBanned  bool   `json:"is_banned"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type PluginStat struct {
	PluginID    string `gorm:"primaryKey" json:"plugin_id"`
	Total       int64  `json:"total"`
	Success     int64  `json:"success"`
	Last        int64  `json:"last"`         // unix ms
	LastSuccess int64  `json:"last_success"` // unix ms
}

type CommandUsage struct {
	Command     string   `gorm:"primaryKey" json:"command"`
	PluginID    string   `json:"plugin_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `gorm:"serializer:json;type:json" json:"tags"`
	Count       int64    `json:"count"`
	LastUsed    int64    `json:"last_used"`
}
