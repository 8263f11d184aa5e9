package database

import (
	"context"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/go-faster/errors"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var db *gorm.DB

func InitDatabase(ctx context.Context, path string) error {
	if db != nil {
		return nil
	}
	log.FromContext(ctx).Debug("Initializing database", "path", path)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return errors.Wrap(err, "create database directory")
		}
	}
	openDb, err := gorm.Open(gormlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	if err := openDb.AutoMigrate(&User{}, &Chat{}, &PluginStat{}, &CommandUsage{}); err != nil {
		return errors.Wrap(err, "migrate database")
	}
	db = openDb
	return nil
}

func Close() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	db = nil
	resetLiveRecords()
	return sqlDB.Close()
}
