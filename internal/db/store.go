package db

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/hpungsan/canopy/internal/errors"
	"github.com/hpungsan/canopy/internal/tree"
)

// Keys used in the kv table.
const (
	KeyTree     = "fs"
	KeySettings = "settings"
)

// Settings are user preferences persisted alongside the tree.
type Settings struct {
	Theme string `json:"theme"`
	Model string `json:"model"`
}

// DefaultSettings returns the settings used before any are saved.
func DefaultSettings(model string) *Settings {
	return &Settings{Theme: "dark", Model: model}
}

// Store is the key/value persistence backend for a workspace.
type Store struct {
	db *sql.DB
}

// NewStore wraps an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the value stored under key. ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewPersistence("load "+key, err)
	}
	return value, true, nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return errors.NewPersistence("save "+key, err)
	}
	return nil
}

// LoadTree returns the stored tree, or nil without error when none is stored.
// A stored tree that fails validation is reported as a persistence error.
func (s *Store) LoadTree(ctx context.Context) (*tree.Tree, error) {
	raw, ok, err := s.Get(ctx, KeyTree)
	if err != nil || !ok {
		return nil, err
	}
	t, err := tree.Decode([]byte(raw))
	if err != nil {
		return nil, errors.NewPersistence("load tree", err)
	}
	return t, nil
}

// SaveTree writes the whole tree document.
func (s *Store) SaveTree(ctx context.Context, t *tree.Tree) error {
	data, err := tree.Encode(t)
	if err != nil {
		return errors.NewInternal(err)
	}
	return s.Put(ctx, KeyTree, string(data))
}

// LoadSettings returns stored settings, or nil without error when none are stored.
func (s *Store) LoadSettings(ctx context.Context) (*Settings, error) {
	raw, ok, err := s.Get(ctx, KeySettings)
	if err != nil || !ok {
		return nil, err
	}
	var st Settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, errors.NewPersistence("load settings", err)
	}
	return &st, nil
}

// SaveSettings writes the settings document.
func (s *Store) SaveSettings(ctx context.Context, st *Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.NewInternal(err)
	}
	return s.Put(ctx, KeySettings, string(data))
}
