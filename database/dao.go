package database

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func UpsertUser(ctx context.Context, user *User) error {
	if err := db.WithContext(ctx).Save(user).Error; err != nil {
		return err
	}
	return nil
}

func GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetAllUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func UpsertChat(ctx context.Context, chat *Chat) error {
	if err := db.WithContext(ctx).Save(chat).Error; err != nil {
		return err
	}
	return nil
}

func GetChat(ctx context.Context, id string) (*Chat, error) {
	var chat Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&chat).Error; err != nil {
		return nil, err
	}
	return &chat, nil
}

func UpsertPluginStats(ctx context.Context, stats []*PluginStat) error {
	if len(stats) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&stats).Error
}

func GetAllPluginStats(ctx context.Context) ([]*PluginStat, error) {
	var stats []*PluginStat
	if err := db.WithContext(ctx).Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// ReplaceCommandUsage stores the leaderboard as given, dropping rows that were evicted.
func ReplaceCommandUsage(ctx context.Context, usage []*CommandUsage) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&CommandUsage{}).Error; err != nil {
			return err
		}
		if len(usage) == 0 {
			return nil
		}
		return tx.Create(&usage).Error
	})
}

func GetAllCommandUsage(ctx context.Context) ([]*CommandUsage, error) {
	var usage []*CommandUsage
	if err := db.WithContext(ctx).Order("count desc").Find(&usage).Error; err != nil {
		return nil, err
	}
	return usage, nil
}
