// Package assets registers physical items such as street lamps under a
// generated, date-bucketed asset code.
package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"citizenportal/internal/authz"
	"citizenportal/internal/db"
	"citizenportal/internal/idgen"
	"citizenportal/internal/metrics"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
)

const StatusActive = "active"

type Asset struct {
	ID         int64     `json:"id"`
	Code       string    `json:"code"`
	Prefix     string    `json:"prefix"`
	RunNumber  int64     `json:"run_number"`
	CategoryID int64     `json:"category_id"`
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateInput struct {
	CategoryID int64  `json:"category_id"`
	Name       string `json:"name"`
	Location   string `json:"location"`
}

type Service struct {
	db      *sql.DB
	seq     *idgen.AssetSequencer
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

func NewService(conn *sql.DB, seq *idgen.AssetSequencer, m *metrics.Metrics, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{db: conn, seq: seq, metrics: m, log: log, now: time.Now}
}

// Create allocates the next code for the category bucket and stores the
// asset in the same transaction, so a failed insert releases the run number.
func (s *Service) Create(ctx context.Context, p *authz.Principal, in CreateInput) (Asset, error) {
	if err := authz.Authorize(p, authz.OpGenerateAssetCode); err != nil {
		return Asset{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	switch {
	case in.CategoryID <= 0:
		return Asset{}, fmt.Errorf("%w: category_id is required", ErrValidation)
	case in.Name == "":
		return Asset{}, fmt.Errorf("%w: name is required", ErrValidation)
	case len([]rune(in.Name)) > 200:
		return Asset{}, fmt.Errorf("%w: name is too long", ErrValidation)
	}

	now := s.now()
	a := Asset{CategoryID: in.CategoryID, Name: in.Name, Location: in.Location, Status: StatusActive, CreatedAt: now}
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		code, err := s.seq.NextInTx(ctx, tx, in.CategoryID, now)
		if err != nil {
			return err
		}
		a.Code, a.Prefix, a.RunNumber = code.Code, code.Prefix, code.RunNumber
		res, err := tx.ExecContext(ctx, `
			INSERT INTO assets(code, prefix, run_number, category_id, name, location, status, created_at)
			VALUES(?,?,?,?,?,?,?,?)`,
			a.Code, a.Prefix, a.RunNumber, a.CategoryID, a.Name, a.Location, a.Status, db.FormatTime(now))
		if err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		a.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, idgen.ErrInvalidCategory) {
			outcome = "invalid_category"
		}
		s.metrics.CodeIssued("asset", outcome)
		s.log.WithError(err).WithFields(logrus.Fields{
			"op":          "create asset",
			"category_id": in.CategoryID,
			"prefix":      a.Prefix,
		}).Error("asset code allocation failed")
		return Asset{}, err
	}
	s.metrics.CodeIssued("asset", "ok")
	s.log.WithFields(logrus.Fields{"asset_code": a.Code, "actor": p.ID}).Info("asset registered")
	return a, nil
}

func (s *Service) ByCode(ctx context.Context, p *authz.Principal, code string) (Asset, error) {
	if err := authz.Authorize(p, authz.OpGenerateAssetCode); err != nil {
		return Asset{}, err
	}
	rows, err := s.query(ctx, `WHERE code=?`, strings.ToUpper(code))
	if err != nil {
		return Asset{}, err
	}
	if len(rows) == 0 {
		return Asset{}, ErrNotFound
	}
	return rows[0], nil
}

// List returns assets newest first, optionally restricted to one category.
func (s *Service) List(ctx context.Context, p *authz.Principal, categoryID int64) ([]Asset, error) {
	if err := authz.Authorize(p, authz.OpGenerateAssetCode); err != nil {
		return nil, err
	}
	if categoryID > 0 {
		return s.query(ctx, `WHERE category_id=? ORDER BY id DESC`, categoryID)
	}
	return s.query(ctx, `ORDER BY id DESC`)
}

func (s *Service) query(ctx context.Context, tail string, args ...any) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, prefix, run_number, category_id, name, location, status, created_at
		FROM assets `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("select assets: %w", err)
	}
	defer rows.Close()

	out := []Asset{}
	for rows.Next() {
		var a Asset
		var created string
		if err := rows.Scan(&a.ID, &a.Code, &a.Prefix, &a.RunNumber, &a.CategoryID, &a.Name, &a.Location,
			&a.Status, &created); err != nil {
			return nil, err
		}
		a.CreatedAt = db.ParseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
