//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of trackauth.CredentialStore.
// It supports any database GORM supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// AutoMigrate creates a single credentials table with a unique index on the
// normalized email and plain indexes on the two token hash columns. Save is
// optimistic: it updates only the row whose version matches.
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open("trackauth.db"), &gorm.Config{TranslateError: true})
//	_ = gormstore.AutoMigrate(db)
//	store := gormstore.NewCredentialStore(db)
package gorm
