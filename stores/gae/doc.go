//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// trackauth.CredentialStore. A namespace keeps separate deployments apart.
//
// # Datastore Kinds
//
//   - Credential: one entity per identity, keyed by id
//   - CredentialEmail: email reservation, keyed by normalized email
//
// Both are written in the same transaction on Create, which is what makes
// email uniqueness atomic.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewCredentialStore(client, "") // default namespace
package gae
