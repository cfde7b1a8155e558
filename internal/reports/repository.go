package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"citizenportal/internal/db"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; Repository runs them on the pool and Tx
// inside a transaction.
type queries struct {
	q querier
}

type Repository struct {
	queries
	db *sql.DB
}

type Tx struct {
	queries
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{queries: queries{q: conn}, db: conn}
}

// InTx runs fn in one transaction; Report and Repair writes made through tx
// commit together or not at all.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	return db.WithTx(ctx, r.db, func(sqlTx *sql.Tx) error {
		return fn(&Tx{queries{q: sqlTx}})
	})
}

const reportColumns = `id, ticket_code, category, problem_type_id, description, reporter_name, reporter_phone,
	location, latitude, longitude, asset_code, asset_name, asset_location, status, priority, status_note,
	rating, feedback, feedback_at, COALESCE(idempotency_key, ''), created_at, updated_at`

func (s queries) InsertReport(ctx context.Context, rp *Report) error {
	var lat, lng any
	if rp.Coordinates != nil {
		lat, lng = rp.Coordinates.Lat, rp.Coordinates.Lng
	}
	var key any
	if rp.IdempotencyKey != "" {
		key = rp.IdempotencyKey
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO reports(ticket_code, category, problem_type_id, description, reporter_name, reporter_phone,
			location, latitude, longitude, asset_code, asset_name, asset_location, status, priority,
			idempotency_key, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rp.TicketCode, rp.Category, rp.ProblemTypeID, rp.Description, rp.ReporterName, rp.ReporterPhone,
		rp.Location, lat, lng, rp.AssetCode, rp.AssetName, rp.AssetLocation, rp.Status, rp.Priority,
		key, db.FormatTime(rp.CreatedAt), db.FormatTime(rp.UpdatedAt),
	)
	if err != nil {
		return storageError("insert report", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageError("insert report", err)
	}
	rp.ID = id
	return s.insertImages(ctx, "report_images", "report_id", id, rp.Images)
}

func (s queries) insertImages(ctx context.Context, table, owner string, ownerID int64, urls []string) error {
	for i, u := range urls {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO `+table+`(`+owner+`, position, url) VALUES(?,?,?)`, ownerID, i, u)
		if err != nil {
			return storageError("insert "+table, err)
		}
	}
	return nil
}

func (s queries) images(ctx context.Context, table, owner string, ownerID int64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT url FROM `+table+` WHERE `+owner+`=? ORDER BY position ASC`, ownerID)
	if err != nil {
		return nil, storageError("select "+table, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, storageError("scan "+table, err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s queries) ReportByCode(ctx context.Context, code string) (*Report, error) {
	return s.report(ctx, `SELECT `+reportColumns+` FROM reports WHERE ticket_code=?`, code)
}

func (s queries) ReportByID(ctx context.Context, id int64) (*Report, error) {
	return s.report(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id)
}

// CodeByIdempotencyKey returns the ticket code recorded for key, or ErrNotFound.
func (s queries) CodeByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var code string
	err := s.q.QueryRowContext(ctx, `SELECT ticket_code FROM reports WHERE idempotency_key=?`, key).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageError("select idempotency key", err)
	}
	return code, nil
}

func (s queries) report(ctx context.Context, q string, arg any) (*Report, error) {
	rp, err := scanReport(s.q.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("select report", err)
	}
	if rp.Images, err = s.images(ctx, "report_images", "report_id", rp.ID); err != nil {
		return nil, err
	}
	return rp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		rp                   Report
		problemType          sql.NullInt64
		lat, lng             sql.NullFloat64
		assetCode            sql.NullString
		rating               sql.NullInt64
		feedback, feedbackAt sql.NullString
		created, updated     string
	)
	err := row.Scan(&rp.ID, &rp.TicketCode, &rp.Category, &problemType, &rp.Description, &rp.ReporterName,
		&rp.ReporterPhone, &rp.Location, &lat, &lng, &assetCode, &rp.AssetName, &rp.AssetLocation,
		&rp.Status, &rp.Priority, &rp.StatusNote, &rating, &feedback, &feedbackAt, &rp.IdempotencyKey,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	if problemType.Valid {
		v := problemType.Int64
		rp.ProblemTypeID = &v
	}
	if lat.Valid && lng.Valid {
		rp.Coordinates = &Coordinates{Lat: lat.Float64, Lng: lng.Float64}
	}
	if assetCode.Valid {
		v := assetCode.String
		rp.AssetCode = &v
	}
	if rating.Valid {
		v := int(rating.Int64)
		rp.Rating = &v
	}
	if feedback.Valid {
		v := feedback.String
		rp.Feedback = &v
	}
	if feedbackAt.Valid {
		v := db.ParseTime(feedbackAt.String)
		rp.FeedbackAt = &v
	}
	rp.CreatedAt = db.ParseTime(created)
	rp.UpdatedAt = db.ParseTime(updated)
	rp.Images = []string{}
	return &rp, nil
}

func (s queries) SetReportStatus(ctx context.Context, reportID int64, status Status, note string, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `UPDATE reports SET status=?, status_note=?, updated_at=? WHERE id=?`,
		status, note, db.FormatTime(now), reportID)
	if err != nil {
		return storageError("update report status", err)
	}
	return nil
}

func (s queries) SetPriority(ctx context.Context, reportID int64, p Priority, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `UPDATE reports SET priority=?, updated_at=? WHERE id=?`,
		p, db.FormatTime(now), reportID)
	if err != nil {
		return storageError("update priority", err)
	}
	return nil
}

// SetFeedback only writes when no rating exists yet and the report is completed.
func (s queries) SetFeedback(ctx context.Context, reportID int64, rating int, text string, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE reports SET rating=?, feedback=?, feedback_at=?, updated_at=?
		WHERE id=? AND status=? AND rating IS NULL`,
		rating, text, db.FormatTime(now), db.FormatTime(now), reportID, StatusCompleted)
	if err != nil {
		return storageError("update feedback", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageError("update feedback", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: feedback already recorded or report not completed", ErrInvalidTransition)
	}
	return nil
}

func (s queries) AppendHistory(ctx context.Context, reportID int64, e HistoryEntry) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO report_history(report_id, from_status, to_status, actor, note, at) VALUES(?,?,?,?,?,?)`,
		reportID, e.From, e.To, e.Actor, e.Note, db.FormatTime(e.At))
	if err != nil {
		return storageError("insert history", err)
	}
	return nil
}

func (s queries) History(ctx context.Context, reportID int64) ([]HistoryEntry, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT from_status, to_status, actor, note, at FROM report_history WHERE report_id=? ORDER BY id ASC`, reportID)
	if err != nil {
		return nil, storageError("select history", err)
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var at string
		if err := rows.Scan(&e.From, &e.To, &e.Actor, &e.Note, &at); err != nil {
			return nil, storageError("scan history", err)
		}
		e.At = db.ParseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

const repairColumns = `id, report_id, technician_id, estimated_cost, actual_cost, start_date, completion_date,
	notes, status, created_at, updated_at`

func (s queries) InsertRepair(ctx context.Context, rp *Repair) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO repairs(report_id, technician_id, estimated_cost, status, created_at, updated_at)
		VALUES(?,?,?,?,?,?)`,
		rp.ReportID, rp.TechnicianID, decimalArg(rp.EstimatedCost), rp.Status,
		db.FormatTime(rp.CreatedAt), db.FormatTime(rp.UpdatedAt))
	if err != nil {
		return storageError("insert repair", err)
	}
	if rp.ID, err = res.LastInsertId(); err != nil {
		return storageError("insert repair", err)
	}
	return nil
}

// UpdateRepair writes every mutable repair column and replaces the after-images.
func (s queries) UpdateRepair(ctx context.Context, rp *Repair) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE repairs SET actual_cost=?, start_date=?, completion_date=?, notes=?, status=?, updated_at=?
		WHERE id=?`,
		decimalArg(rp.ActualCost), timeArg(rp.StartDate), timeArg(rp.CompletionDate), rp.Notes, rp.Status,
		db.FormatTime(rp.UpdatedAt), rp.ID)
	if err != nil {
		return storageError("update repair", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM repair_images WHERE repair_id=?`, rp.ID); err != nil {
		return storageError("delete repair_images", err)
	}
	return s.insertImages(ctx, "repair_images", "repair_id", rp.ID, rp.AfterImages)
}

func (s queries) RepairByID(ctx context.Context, id int64) (*Repair, error) {
	return s.repair(ctx, `SELECT `+repairColumns+` FROM repairs WHERE id=?`, id)
}

func (s queries) RepairByReport(ctx context.Context, reportID int64) (*Repair, error) {
	return s.repair(ctx, `SELECT `+repairColumns+` FROM repairs WHERE report_id=?`, reportID)
}

func (s queries) repair(ctx context.Context, q string, arg any) (*Repair, error) {
	var (
		rp                Repair
		est, actual       sql.NullString
		start, completion sql.NullString
		created, updated  string
	)
	err := s.q.QueryRowContext(ctx, q, arg).Scan(&rp.ID, &rp.ReportID, &rp.TechnicianID, &est, &actual,
		&start, &completion, &rp.Notes, &rp.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("select repair", err)
	}
	if rp.EstimatedCost, err = parseDecimalColumn(est); err != nil {
		return nil, storageError("parse estimated_cost", err)
	}
	if rp.ActualCost, err = parseDecimalColumn(actual); err != nil {
		return nil, storageError("parse actual_cost", err)
	}
	rp.StartDate = parseTimeColumn(start)
	rp.CompletionDate = parseTimeColumn(completion)
	rp.CreatedAt = db.ParseTime(created)
	rp.UpdatedAt = db.ParseTime(updated)
	if rp.AfterImages, err = s.images(ctx, "repair_images", "repair_id", rp.ID); err != nil {
		return nil, err
	}
	return &rp, nil
}

func (s queries) List(ctx context.Context, f ListFilter) ([]Report, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		where = append(where, "category=?")
		args = append(args, f.Category)
	}
	q := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY datetime(created_at) DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageError("list reports", err)
	}
	defer rows.Close()

	out := []Report{}
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, storageError("scan report", err)
		}
		out = append(out, *rp)
	}
	return out, rows.Err()
}

// AssetSnapshot returns the name and location of an asset for denormalising into a report.
func (s queries) AssetSnapshot(ctx context.Context, code string) (name, location string, err error) {
	err = s.q.QueryRowContext(ctx, `SELECT name, location FROM assets WHERE code=?`, code).Scan(&name, &location)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", storageError("select asset", err)
	}
	return name, location, nil
}

// ProblemTypeCategory returns the report category a problem type belongs to.
func (s queries) ProblemTypeCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := s.q.QueryRowContext(ctx, `SELECT report_category FROM problem_types WHERE id=?`, id).Scan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageError("select problem type", err)
	}
	return c, nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return db.FormatTime(*t)
}

func parseDecimalColumn(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseTimeColumn(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := db.ParseTime(ns.String)
	return &t
}
