package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrUnsupportedVersion means the backing server predates the oldest
// release the journal supports.
var ErrUnsupportedVersion = errors.New("postgresql server is too old")

// minServerVersion is PostgreSQL 9.5, the oldest release with the JSONB
// operator and indexing support the journal relies on.
var minServerVersion = semver.MustParse("9.5.0")

// checkServerVersion gates construction on the server version. Fatal,
// not retryable: a failing journal must not be handed to callers.
func checkServerVersion(ctx context.Context, db *sql.DB) error {
	var reported string
	if err := db.QueryRowContext(ctx, "SHOW server_version").Scan(&reported); err != nil {
		return fmt.Errorf("query server version: %w", err)
	}
	v, err := parseServerVersion(reported)
	if err != nil {
		return err
	}
	if v.LessThan(minServerVersion) {
		return fmt.Errorf("%w: %s (%s required)", ErrUnsupportedVersion, reported, minServerVersion)
	}
	return nil
}

// parseServerVersion handles the strings Postgres reports: plain dotted
// versions ("9.5", "16.4") and platform-suffixed ones
// ("16.4 (Debian 16.4-1.pgdg120+1)").
func parseServerVersion(reported string) (*semver.Version, error) {
	fields := strings.Fields(reported)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty server version string")
	}
	v, err := semver.NewVersion(fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse server version %q: %w", reported, err)
	}
	return v, nil
}
