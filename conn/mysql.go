package conn

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"visualize-backend/config"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQL opens the application database, creating the schema database first
// when it does not exist yet.
func NewMySQL(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	adminDB, err := sql.Open("mysql", cfg.DSN(""))
	if err != nil {
		return nil, err
	}
	if err := adminDB.PingContext(ctx); err != nil {
		adminDB.Close()
		return nil, fmt.Errorf("ping mysql server: %w", err)
	}
	if _, err := adminDB.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS `"+cfg.Name+"` DEFAULT CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci"); err != nil {
		adminDB.Close()
		return nil, fmt.Errorf("create database %s: %w", cfg.Name, err)
	}
	adminDB.Close()

	db, err := sql.Open("mysql", cfg.DSN(cfg.Name))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Name, err)
	}
	return db, nil
}
