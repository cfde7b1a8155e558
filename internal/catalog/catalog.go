// Package catalog manages the reference data behind reports and assets:
// asset categories with their code prefixes, and problem types per report
// category.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"citizenportal/internal/authz"
	"citizenportal/internal/db"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrInUse      = errors.New("still referenced")
	ErrValidation = errors.New("validation failed")
)

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
}

type ProblemType struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	ReportCategory string    `json:"report_category"`
	CreatedAt      time.Time `json:"created_at"`
}

type CategoryInput struct {
	Name   string `json:"name" validate:"required,max=100"`
	Prefix string `json:"prefix" validate:"required,alpha,min=2,max=4"`
}

type ProblemTypeInput struct {
	Name           string `json:"name" validate:"required,max=100"`
	ReportCategory string `json:"report_category" validate:"required,oneof=repair request general"`
}

type Store struct {
	db       *sql.DB
	validate *validator.Validate
	now      func() time.Time
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, validate: validator.New(), now: time.Now}
}

func (s *Store) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, ", "))
}

func (s *Store) ListCategories(ctx context.Context, p *authz.Principal) ([]Category, error) {
	if err := authz.Authorize(p, authz.OpGenerateAssetCode); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, prefix, created_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := []Category{}
	for rows.Next() {
		var c Category
		var created string
		if err := rows.Scan(&c.ID, &c.Name, &c.Prefix, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = db.ParseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCategory(ctx context.Context, p *authz.Principal, in CategoryInput) (Category, error) {
	if err := authz.Authorize(p, authz.OpManageCategories); err != nil {
		return Category{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Prefix = strings.ToUpper(strings.TrimSpace(in.Prefix))
	if err := s.check(in); err != nil {
		return Category{}, err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO categories(name, prefix, created_at) VALUES(?,?,?)`,
		in.Name, in.Prefix, db.FormatTime(now))
	if db.IsUniqueViolation(err) {
		return Category{}, fmt.Errorf("%w: category name or prefix", ErrConflict)
	}
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Category{}, err
	}
	return Category{ID: id, Name: in.Name, Prefix: in.Prefix, CreatedAt: now}, nil
}

// DeleteCategory removes a category that no asset uses yet.
func (s *Store) DeleteCategory(ctx context.Context, p *authz.Principal, id int64) error {
	if err := authz.Authorize(p, authz.OpManageCategories); err != nil {
		return err
	}
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE category_id=?`, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d assets", ErrInUse, n)
		}
		return deleteByID(ctx, tx, "categories", id)
	})
}

// ListProblemTypes is public: the citizen form needs it. An empty category lists all.
func (s *Store) ListProblemTypes(ctx context.Context, category string) ([]ProblemType, error) {
	q := `SELECT id, name, report_category, created_at FROM problem_types`
	var args []any
	if category != "" {
		q += ` WHERE report_category=?`
		args = append(args, category)
	}
	q += ` ORDER BY report_category ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list problem types: %w", err)
	}
	defer rows.Close()

	out := []ProblemType{}
	for rows.Next() {
		var pt ProblemType
		var created string
		if err := rows.Scan(&pt.ID, &pt.Name, &pt.ReportCategory, &created); err != nil {
			return nil, err
		}
		pt.CreatedAt = db.ParseTime(created)
		out = append(out, pt)
	}
	return out, rows.Err()
}

func (s *Store) CreateProblemType(ctx context.Context, p *authz.Principal, in ProblemTypeInput) (ProblemType, error) {
	if err := authz.Authorize(p, authz.OpManageProblemTypes); err != nil {
		return ProblemType{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return ProblemType{}, err
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO problem_types(name, report_category, created_at) VALUES(?,?,?)`,
		in.Name, in.ReportCategory, db.FormatTime(now))
	if db.IsUniqueViolation(err) {
		return ProblemType{}, fmt.Errorf("%w: problem type %q", ErrConflict, in.Name)
	}
	if err != nil {
		return ProblemType{}, fmt.Errorf("insert problem type: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ProblemType{}, err
	}
	return ProblemType{ID: id, Name: in.Name, ReportCategory: in.ReportCategory, CreatedAt: now}, nil
}

// DeleteProblemType removes a problem type no report refers to.
func (s *Store) DeleteProblemType(ctx context.Context, p *authz.Principal, id int64) error {
	if err := authz.Authorize(p, authz.OpManageProblemTypes); err != nil {
		return err
	}
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE problem_type_id=?`, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d reports", ErrInUse, n)
		}
		return deleteByID(ctx, tx, "problem_types", id)
	})
}

func deleteByID(ctx context.Context, tx *sql.Tx, table string, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
