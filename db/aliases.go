package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leapmail/mx/consts"
)

// GetAliasTarget resolves key to its delivery target. The key matches
// either the alias column (local part) or the address column (full
// address), which is what an MTA probes with during recipient
// resolution. Absence is reported as consts.ErrAliasNotFound.
func (db *Database) GetAliasTarget(ctx context.Context, key string) (string, error) {
	var address string
	err := db.timedQueryRow(ctx, "get_alias", `
		SELECT address FROM aliases WHERE alias = $1 OR address = $1 LIMIT 1
	`, key).Scan(&address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", consts.ErrAliasNotFound
		}
		return "", fmt.Errorf("failed to query alias '%s': %w", key, err)
	}
	return address, nil
}

// InsertAlias stores a new alias mapping. An existing alias is reported
// as consts.ErrDuplicateAlias and leaves the stored value unchanged.
func (db *Database) InsertAlias(ctx context.Context, key, value string) error {
	err := db.timedExec(ctx, "insert_alias", `
		INSERT INTO aliases (alias, address) VALUES ($1, $2)
	`, key, value)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return consts.ErrDuplicateAlias
		}
		return fmt.Errorf("failed to insert alias '%s': %w", key, err)
	}
	return nil
}
