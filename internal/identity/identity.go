// Package identity resolves the stable local user announced to the
// presence relay.
package identity

import (
	"context"
	"errors"
	"log"

	"github.com/christopherjohns/filepresence/internal/protocol"
	"github.com/google/uuid"
)

// UserIDKey is the store key holding the generated user id.
const UserIDKey = "userId"

// ResolveUserID returns the persisted user id, generating and persisting a
// new random one on first use. When the store cannot be read or written the
// returned id is only valid for this process; resolution never fails.
func ResolveUserID(ctx context.Context, store Store) string {
	if store == nil {
		return uuid.NewString()
	}

	id, err := store.Get(ctx, UserIDKey)
	if err == nil && id != "" {
		return id
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("identity: store unavailable, using ephemeral user id: %v", err)
		return uuid.NewString()
	}

	id = uuid.NewString()
	if as, ok := store.(AbsentSetter); ok {
		return claimUserID(ctx, store, as, id)
	}
	if err := store.Set(ctx, UserIDKey, id); err != nil {
		log.Printf("identity: failed to persist user id, id is ephemeral: %v", err)
	}
	return id
}

// claimUserID writes id only if no other process stored one first, and
// returns whichever id ended up in the store.
func claimUserID(ctx context.Context, store Store, as AbsentSetter, id string) string {
	stored, err := as.SetIfAbsent(ctx, UserIDKey, id)
	if err != nil {
		log.Printf("identity: failed to persist user id, id is ephemeral: %v", err)
		return id
	}
	if stored {
		return id
	}
	existing, err := store.Get(ctx, UserIDKey)
	if err != nil || existing == "" {
		log.Printf("identity: lost user id race but could not read winner, id is ephemeral: %v", err)
		return id
	}
	return existing
}

// NewUser builds the local User from the persisted id and the configured
// display name and avatar URL.
func NewUser(ctx context.Context, store Store, name, avatar string) protocol.User {
	return protocol.User{
		UserID: ResolveUserID(ctx, store),
		Name:   name,
		Avatar: avatar,
	}
}
