package idgen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"citizenportal/internal/db"
)

const (
	runWidth = 6
	// MaxRun is the largest run number that fits the zero-padded width.
	MaxRun = 999999
)

type AssetCode struct {
	Code      string `json:"code"`
	Prefix    string `json:"prefix"`
	RunNumber int64  `json:"run_number"`
}

// AssetSequencer allocates asset codes "<categoryPrefix>-<YYMMDD>-<run>".
//
// The run number is bumped with a single upsert on the bucket's sequence row
// inside the caller's transaction, so two callers on the same (prefix, date)
// can never read the same maximum. A new bucket is seeded from the highest run
// already present in assets.
type AssetSequencer struct {
	db       *sql.DB
	Location *time.Location
}

func NewAssetSequencer(conn *sql.DB, loc *time.Location) *AssetSequencer {
	if loc == nil {
		loc = time.UTC
	}
	return &AssetSequencer{db: conn, Location: loc}
}

// Reserve allocates and commits the next code for categoryID.
func (s *AssetSequencer) Reserve(ctx context.Context, categoryID int64, now time.Time) (AssetCode, error) {
	var out AssetCode
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		out, err = s.NextInTx(ctx, tx, categoryID, now)
		return err
	})
	return out, err
}

// NextInTx allocates the next code inside tx. If the caller rolls tx back the
// run number is released with it.
func (s *AssetSequencer) NextInTx(ctx context.Context, tx *sql.Tx, categoryID int64, now time.Time) (AssetCode, error) {
	var catPrefix string
	err := tx.QueryRowContext(ctx, `SELECT prefix FROM categories WHERE id=?`, categoryID).Scan(&catPrefix)
	if errors.Is(err, sql.ErrNoRows) {
		return AssetCode{}, fmt.Errorf("%w: category %d", ErrInvalidCategory, categoryID)
	}
	if err != nil {
		return AssetCode{}, fmt.Errorf("lookup category: %w", err)
	}

	prefix := catPrefix + "-" + now.In(s.Location).Format("060102")

	var run int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO asset_sequences(prefix, last_run)
		VALUES(?, COALESCE((SELECT MAX(run_number) FROM assets WHERE prefix=?), 0) + 1)
		ON CONFLICT(prefix) DO UPDATE SET last_run = last_run + 1
		RETURNING last_run`, prefix, prefix).Scan(&run)
	if err != nil {
		return AssetCode{}, fmt.Errorf("bump sequence %s: %w", prefix, err)
	}
	if run > MaxRun {
		return AssetCode{}, fmt.Errorf("%w: %s reached %d", ErrExhaustedSequence, prefix, MaxRun)
	}

	return AssetCode{
		Code:      fmt.Sprintf("%s-%0*d", prefix, runWidth, run),
		Prefix:    prefix,
		RunNumber: run,
	}, nil
}
