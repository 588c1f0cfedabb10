//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-backed profileauth.Store for PostgreSQL in
// production. Any GORM dialect works; the tests run on SQLite.
//
// # Database Schema
//
//   - users: accounts, unique on username and on email
//   - connections: social connections, keyed by (user_id, provider) and
//     unique on (provider, subject)
//   - reset_tokens: password reset tokens keyed by their SHA-256 digest
//
// Production schemas are managed by Migrate, which applies the embedded
// SQL migrations. AutoMigrate is for tests and local development.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	store := gormstore.New(db)
package gorm
