package database

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
)

// Live records are shared by every in-flight dispatch and mutated in place.
// Writers of a live user hold auth.Resolver.LockRecords.
var (
	liveUsers   = make(map[string]*User)
	liveUsersMu = &sync.Mutex{}
	liveChats   = make(map[string]*Chat)
	liveChatsMu = &sync.Mutex{}
)

func resetLiveRecords() {
	liveUsersMu.Lock()
	liveUsers = make(map[string]*User)
	liveUsersMu.Unlock()
	liveChatsMu.Lock()
	liveChats = make(map[string]*Chat)
	liveChatsMu.Unlock()
}

// GetOrCreateUser returns the live record for id, loading it from the
// database or creating it on first contact.
func GetOrCreateUser(ctx context.Context, id string) (*User, error) {
	liveUsersMu.Lock()
	defer liveUsersMu.Unlock()
	if u, ok := liveUsers[id]; ok {
		return u, nil
	}
	u, err := GetUser(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		u = NewUser(id)
		err = UpsertUser(ctx, u)
	}
	if err != nil {
		return nil, err
	}
	liveUsers[id] = u
	return u, nil
}

func GetOrCreateChat(ctx context.Context, id string) (*Chat, error) {
	liveChatsMu.Lock()
	defer liveChatsMu.Unlock()
	if c, ok := liveChats[id]; ok {
		return c, nil
	}
	c, err := GetChat(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c = &Chat{ID: id}
		err = UpsertChat(ctx, c)
	}
	if err != nil {
		return nil, err
	}
	liveChats[id] = c
	return c, nil
}

// Store adapts the package functions to the record interfaces used by dispatch.
type Store struct{}

func (Store) User(ctx context.Context, id string) (*User, error) {
	return GetOrCreateUser(ctx, id)
}

func (Store) Chat(ctx context.Context, id string) (*Chat, error) {
	return GetOrCreateChat(ctx, id)
}

func (Store) SaveUser(ctx context.Context, u *User) error {
	return UpsertUser(ctx, u)
}

func (Store) SaveChat(ctx context.Context, c *Chat) error {
	return UpsertChat(ctx, c)
}

func (Store) LoadPluginStats(ctx context.Context) ([]*PluginStat, error) {
	return GetAllPluginStats(ctx)
}

func (Store) LoadCommandUsage(ctx context.Context) ([]*CommandUsage, error) {
	return GetAllCommandUsage(ctx)
}

func (Store) SaveStats(ctx context.Context, stats []*PluginStat, usage []*CommandUsage) error {
	if err := UpsertPluginStats(ctx, stats); err != nil {
		return err
	}
	return ReplaceCommandUsage(ctx, usage)
}
