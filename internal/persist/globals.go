package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/estudemais/estude-mais/internal/models"
	"github.com/estudemais/estude-mais/internal/storage"
)

// Global (not per-user) metadata keys.
const (
	KeyAPICredential = "estudemais_api_key"
	KeyCurrentUser   = "estudemais_current_user"
)

// LoadAPIKey returns the persisted API credential, or "" when none is
// stored.
func LoadAPIKey(ctx context.Context, meta storage.MetadataStore) string {
	key, err := meta.Get(ctx, KeyAPICredential)
	if err != nil {
		return ""
	}
	return key
}

// SaveAPIKey stores the API credential; an empty value clears it.
func SaveAPIKey(ctx context.Context, meta storage.MetadataStore, key string) error {
	if key == "" {
		return meta.Delete(ctx, KeyAPICredential)
	}
	return meta.Set(ctx, KeyAPICredential, key)
}

// LoadCurrentUser returns the remembered profile, if any.
func LoadCurrentUser(ctx context.Context, meta storage.MetadataStore) (models.UserProfile, bool, error) {
	raw, err := meta.Get(ctx, KeyCurrentUser)
	if errors.Is(err, storage.ErrNotFound) {
		return models.UserProfile{}, false, nil
	}
	if err != nil {
		return models.UserProfile{}, false, fmt.Errorf("error loading current user: %w", err)
	}
	var user models.UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return models.UserProfile{}, false, fmt.Errorf("error decoding current user: %w", err)
	}
	return user, true, nil
}

// SaveCurrentUser remembers the profile across restarts.
func SaveCurrentUser(ctx context.Context, meta storage.MetadataStore, user models.UserProfile) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("error encoding current user: %w", err)
	}
	return meta.Set(ctx, KeyCurrentUser, string(raw))
}

// ClearCurrentUser forgets the remembered profile (logout).
func ClearCurrentUser(ctx context.Context, meta storage.MetadataStore) error {
	return meta.Delete(ctx, KeyCurrentUser)
}
