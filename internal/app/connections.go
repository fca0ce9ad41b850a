package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nhle/redmine-bridge/internal/credential"
	"github.com/nhle/redmine-bridge/internal/logging"
	"github.com/nhle/redmine-bridge/internal/model"
	"github.com/nhle/redmine-bridge/internal/source"
	"github.com/nhle/redmine-bridge/internal/store"
)

// Connections keeps connection rows in the store and their API keys in
// the keyring.
type Connections struct {
	store  store.Store
	creds  *credential.Store
	logger *logging.Logger
}

// NewConnections creates a connection repository.
func NewConnections(s store.Store, creds *credential.Store, logger *logging.Logger) *Connections {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Connections{store: s, creds: creds, logger: logger.WithComponent("connections")}
}

// SaveConnection writes the API key to a new keyring entry, then commits
// the row naming that entry. Readers keep seeing the previous row and key
// until the commit; superseded entries are removed afterwards. A
// connection without an ID takes over the one registered for its base URL.
func (c *Connections) SaveConnection(ctx context.Context, cfg model.ConnectionConfig) (model.ConnectionConfig, error) {
	var stale []string

	prev, err := c.store.GetConnectionByURL(ctx, cfg.BaseURL)
	switch {
	case err == nil:
		if cfg.ID == "" {
			cfg.ID = prev.ID
		}
		stale = append(stale, credential.KeyFor(*prev))
	case errors.Is(err, store.ErrNotFound):
	default:
		return model.ConnectionConfig{}, err
	}

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	} else if prev == nil || prev.ID != cfg.ID {
		current, err := c.store.GetConnection(ctx, cfg.ID)
		switch {
		case err == nil:
			stale = append(stale, credential.KeyFor(*current))
		case errors.Is(err, store.ErrNotFound):
		default:
			return model.ConnectionConfig{}, err
		}
	}

	cfg.CredentialKey = credential.NewConnectionKey(cfg.ID)
	if err := c.creds.Set(cfg.CredentialKey, cfg.APIKey); err != nil {
		return model.ConnectionConfig{}, err
	}

	saved, err := c.store.UpsertConnection(ctx, cfg)
	if err != nil {
		_ = c.creds.Delete(cfg.CredentialKey)
		return model.ConnectionConfig{}, err
	}
	saved.APIKey = cfg.APIKey

	for _, key := range stale {
		if key == saved.CredentialKey {
			continue
		}
		if err := c.creds.Delete(key); err != nil {
			c.logger.Warn("failed to remove superseded credential", "key", key, "error", err)
		}
	}

	c.logger.Info("connection saved", "connection_id", saved.ID, "base_url", saved.BaseURL)
	return saved, nil
}

// Load returns the connection whose ID or name is ref, with its API key.
func (c *Connections) Load(ctx context.Context, ref string) (model.ConnectionConfig, error) {
	cfg, err := c.find(ctx, ref)
	if err != nil {
		return model.ConnectionConfig{}, err
	}

	apiKey, err := c.creds.Get(credential.KeyFor(*cfg))
	if err != nil {
		return model.ConnectionConfig{}, fmt.Errorf("loading api key for %q (re-run setup): %w", cfg.Name, err)
	}
	cfg.APIKey = apiKey
	c.logger.Redact(apiKey)

	return *cfg, nil
}

// List returns all connections without their API keys.
func (c *Connections) List(ctx context.Context) ([]model.ConnectionConfig, error) {
	return c.store.GetConnections(ctx)
}

// Delete removes the connection whose ID or name is ref, and its API key.
func (c *Connections) Delete(ctx context.Context, ref string) (model.ConnectionConfig, error) {
	cfg, err := c.find(ctx, ref)
	if err != nil {
		return model.ConnectionConfig{}, err
	}
	if err := c.store.DeleteConnection(ctx, cfg.ID); err != nil {
		return model.ConnectionConfig{}, err
	}
	if err := c.creds.Delete(credential.KeyFor(*cfg)); err != nil {
		return model.ConnectionConfig{}, err
	}
	c.logger.Info("connection removed", "connection_id", cfg.ID)
	return *cfg, nil
}

func (c *Connections) find(ctx context.Context, ref string) (*model.ConnectionConfig, error) {
	if ref == "" {
		return nil, source.Validation("connection", "connection id or name required")
	}

	cfg, err := c.store.GetConnection(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		cfg, err = c.store.GetConnectionByName(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, &source.NotFoundError{
			Field:   "connection",
			Message: fmt.Sprintf("no connection with id or name %q", ref),
		}
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
