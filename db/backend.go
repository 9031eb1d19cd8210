package db

import (
	"context"
	"fmt"

	"github.com/leapmail/mx/config"
	"github.com/leapmail/mx/consts"
)

// AliasBackend adapts the PostgreSQL pool to the resolver's backend
// contract. Construction is cheap; the pool is created on Connect.
type AliasBackend struct {
	cfg *config.DatabaseConfig
	db  *Database
}

func NewAliasBackend(cfg *config.DatabaseConfig) *AliasBackend {
	return &AliasBackend{cfg: cfg}
}

// Connect establishes the connection pool and applies the schema.
func (b *AliasBackend) Connect(ctx context.Context) error {
	database, err := NewDatabase(ctx, b.cfg)
	if err != nil {
		return err
	}
	b.db = database
	return nil
}

func (b *AliasBackend) QueryByEmailOrAlias(ctx context.Context, key string) (string, error) {
	if b.db == nil {
		return "", consts.ErrNotConnected
	}
	return b.db.GetAliasTarget(ctx, key)
}

func (b *AliasBackend) Insert(ctx context.Context, key, value string) error {
	if b.db == nil {
		return consts.ErrNotConnected
	}
	return b.db.InsertAlias(ctx, key, value)
}

func (b *AliasBackend) Close() {
	if b.db != nil {
		b.db.Close()
		b.db = nil
	}
}

// Database exposes the underlying pool, for callers that need pool
// metrics after a successful Connect.
func (b *AliasBackend) Database() (*Database, error) {
	if b.db == nil {
		return nil, fmt.Errorf("backend not connected")
	}
	return b.db, nil
}
