package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ErrUnsupportedVersion means the linked SQLite library predates the
// oldest release the journal supports.
var ErrUnsupportedVersion = errors.New("sqlite library is too old")

// minLibraryVersion is SQLite 3.24, old enough that every build ships
// the json1 functions the journal queries with.
var minLibraryVersion = semver.MustParse("3.24.0")

func checkLibraryVersion(ctx context.Context, db *sql.DB) error {
	var reported string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&reported); err != nil {
		return fmt.Errorf("query sqlite version: %w", err)
	}
	v, err := semver.NewVersion(reported)
	if err != nil {
		return fmt.Errorf("parse sqlite version %q: %w", reported, err)
	}
	if v.LessThan(minLibraryVersion) {
		return fmt.Errorf("%w: %s (%s required)", ErrUnsupportedVersion, reported, minLibraryVersion)
	}
	return nil
}
