//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// profileauth.Store. All lookups that must be consistent are by key, and
// every uniqueness rule is enforced with marker entities written in the
// same transaction as the record they guard.
//
// # Datastore Kinds
//
//   - User: accounts, keyed by numeric id
//   - Username, Email: uniqueness markers pointing at a User id
//   - Connection: social connections, keyed by "provider:subject"
//   - UserProvider: marker enforcing one connection per user and provider
//   - ResetToken: password reset tokens, keyed by token digest
//
// # Namespacing
//
// Pass a namespace to isolate tenants:
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.New(client, "tenant-123")
package gae
