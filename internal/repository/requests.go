package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
)

// NextEventFunc receives the latest event of a request inside the write
// transaction and returns the event to append. Returning an error aborts the
// transaction.
type NextEventFunc func(latest entity.Event) (entity.Event, error)

type RequestRepository interface {
	// Create inserts the request, its files and its first event atomically.
	Create(ctx context.Context, req entity.Request, first entity.Event) (entity.Event, error)
	Get(ctx context.Context, id string) (entity.Request, error)
	LatestEvent(ctx context.Context, id string) (entity.Event, error)
	ListEvents(ctx context.Context, id string, afterSeq int64) ([]entity.Event, error)
	// AppendEvent assigns the next seq, inserts the event and mirrors it on
	// the request row in one transaction.
	AppendEvent(ctx context.Context, id string, next NextEventFunc) (entity.Event, error)
	AddFileError(ctx context.Context, id string, fe entity.FileError) error
	ListIDsByState(ctx context.Context, state constants.RequestState) ([]string, error)
}

type requestRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewRequestRepository(db *DB, logger *slog.Logger) RequestRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &requestRepo{db: db, logger: logger}
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func (r *requestRepo) Create(ctx context.Context, req entity.Request, first entity.Event) (entity.Event, error) {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if first.CreatedAt.IsZero() {
		first.CreatedAt = now
	}
	first.RequestID = req.ID
	first.Seq = 1

	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return entity.Event{}, common.WrapError(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	query, args := r.db.builder().Insert("requests").
		Columns("id", "description", "locale", "currency", "state", "progress", "message", "created_at", "updated_at").
		Values(req.ID, req.Description, req.Locale, req.Currency,
			string(first.State), first.Progress, first.Message,
			toMicros(req.CreatedAt), toMicros(first.CreatedAt)).
		Query()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to insert request", "request_id", req.ID, "error", err)
		return entity.Event{}, common.NewAppError("DB_ERROR", "insert request", errors.Join(common.ErrDatabase, err))
	}

	for _, f := range req.Files {
		var ref sql.NullString
		if f.Ref != nil {
			b, err := json.Marshal(f.Ref)
			if err != nil {
				return entity.Event{}, fmt.Errorf("marshal file ref: %w", err)
			}
			ref = sql.NullString{String: string(b), Valid: true}
		}
		query, args := r.db.builder().Insert("request_files").
			Columns("request_id", "idx", "filename", "mime", "size", "upload_key", "ref").
			Values(req.ID, f.Index, f.Filename, f.MimeType, f.Size, f.UploadKey, ref).
			Query()
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.Error("failed to insert request file", "request_id", req.ID, "index", f.Index, "error", err)
			return entity.Event{}, common.NewAppError("DB_ERROR", "insert request file", errors.Join(common.ErrDatabase, err))
		}
	}

	if err := r.insertEvent(ctx, tx, first); err != nil {
		return entity.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return entity.Event{}, common.WrapError(err, "commit")
	}
	return first, nil
}

func (r *requestRepo) insertEvent(ctx context.Context, tx *sql.Tx, ev entity.Event) error {
	query, args := r.db.builder().Insert("request_events").
		Columns("request_id", "seq", "state", "progress", "message", "created_at").
		Values(ev.RequestID, ev.Seq, string(ev.State), ev.Progress, ev.Message, toMicros(ev.CreatedAt)).
		Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to insert event", "request_id", ev.RequestID, "seq", ev.Seq, "error", err)
		return common.NewAppError("DB_ERROR", "insert event", errors.Join(common.ErrDatabase, err))
	}
	return nil
}

func (r *requestRepo) Get(ctx context.Context, id string) (entity.Request, error) {
	var (
		req              entity.Request
		state            string
		created, updated int64
	)
	query, args := r.db.builder().
		Select("id", "description", "locale", "currency", "state", "progress", "message", "created_at", "updated_at").
		From(entsql.Table("requests")).
		Where(entsql.EQ("id", id)).
		Query()
	err := r.db.SQL.QueryRowContext(ctx, query, args...).
		Scan(&req.ID, &req.Description, &req.Locale, &req.Currency, &state, &req.Progress, &req.Message, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Request{}, common.NotFoundError("request", id)
	}
	if err != nil {
		r.logger.Error("failed to get request", "request_id", id, "error", err)
		return entity.Request{}, common.WrapError(err, "get request")
	}
	req.State = constants.RequestState(state)
	req.CreatedAt = fromMicros(created)
	req.UpdatedAt = fromMicros(updated)

	if req.Files, err = r.listFiles(ctx, id); err != nil {
		return entity.Request{}, err
	}
	if req.Errors, err = r.listErrors(ctx, id); err != nil {
		return entity.Request{}, err
	}
	return req, nil
}

func (r *requestRepo) listFiles(ctx context.Context, id string) ([]entity.SubmittedFile, error) {
	query, args := r.db.builder().
		Select("idx", "filename", "mime", "size", "upload_key", "ref").
		From(entsql.Table("request_files")).
		Where(entsql.EQ("request_id", id)).
		OrderBy("idx").
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "list request files")
	}
	defer rows.Close()

	var out []entity.SubmittedFile
	for rows.Next() {
		var (
			f   entity.SubmittedFile
			ref sql.NullString
		)
		if err := rows.Scan(&f.Index, &f.Filename, &f.MimeType, &f.Size, &f.UploadKey, &ref); err != nil {
			return nil, common.WrapError(err, "scan request file")
		}
		if ref.Valid && ref.String != "" {
			f.Ref = &entity.FileRef{}
			if err := json.Unmarshal([]byte(ref.String), f.Ref); err != nil {
				return nil, fmt.Errorf("decode file ref: %w", err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *requestRepo) listErrors(ctx context.Context, id string) ([]entity.FileError, error) {
	query, args := r.db.builder().
		Select("filename", "message", "created_at").
		From(entsql.Table("request_errors")).
		Where(entsql.EQ("request_id", id)).
		OrderBy("seq").
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "list request errors")
	}
	defer rows.Close()

	var out []entity.FileError
	for rows.Next() {
		var (
			fe entity.FileError
			at int64
		)
		if err := rows.Scan(&fe.Filename, &fe.Message, &at); err != nil {
			return nil, common.WrapError(err, "scan request error")
		}
		fe.CreatedAt = fromMicros(at)
		out = append(out, fe)
	}
	return out, rows.Err()
}

func (r *requestRepo) selectEvents() *entsql.Selector {
	return r.db.builder().
		Select("request_id", "seq", "state", "progress", "message", "created_at").
		From(entsql.Table("request_events"))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (entity.Event, error) {
	var (
		ev    entity.Event
		state string
		at    int64
	)
	if err := row.Scan(&ev.RequestID, &ev.Seq, &state, &ev.Progress, &ev.Message, &at); err != nil {
		return entity.Event{}, err
	}
	ev.State = constants.RequestState(state)
	ev.CreatedAt = fromMicros(at)
	return ev, nil
}

func (r *requestRepo) LatestEvent(ctx context.Context, id string) (entity.Event, error) {
	return r.latestEvent(ctx, r.db.SQL, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *requestRepo) latestEvent(ctx context.Context, q queryer, id string) (entity.Event, error) {
	query, args := r.selectEvents().
		Where(entsql.EQ("request_id", id)).
		OrderBy(entsql.Desc("seq")).
		Limit(1).
		Query()
	ev, err := scanEvent(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Event{}, common.NotFoundError("request", id)
	}
	if err != nil {
		r.logger.Error("failed to get latest event", "request_id", id, "error", err)
		return entity.Event{}, common.WrapError(err, "latest event")
	}
	return ev, nil
}

func (r *requestRepo) ListEvents(ctx context.Context, id string, afterSeq int64) ([]entity.Event, error) {
	query, args := r.selectEvents().
		Where(entsql.And(entsql.EQ("request_id", id), entsql.GT("seq", afterSeq))).
		OrderBy("seq").
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "list events")
	}
	defer rows.Close()

	var out []entity.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan event")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *requestRepo) AppendEvent(ctx context.Context, id string, next NextEventFunc) (entity.Event, error) {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return entity.Event{}, common.WrapError(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if r.db.driver == DriverPostgres {
		// serialize writers of the same request
		var locked string
		query, args := r.db.builder().Select("id").
			From(entsql.Table("requests")).
			Where(entsql.EQ("id", id)).
			ForUpdate().
			Query()
		err := tx.QueryRowContext(ctx, query, args...).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return entity.Event{}, common.NotFoundError("request", id)
		}
		if err != nil {
			return entity.Event{}, common.WrapError(err, "lock request")
		}
	}

	latest, err := r.latestEvent(ctx, tx, id)
	if err != nil {
		return entity.Event{}, err
	}
	ev, err := next(latest)
	if err != nil {
		return entity.Event{}, err
	}
	ev.RequestID = id
	ev.Seq = latest.Seq + 1
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if err := r.insertEvent(ctx, tx, ev); err != nil {
		return entity.Event{}, err
	}
	query, args := r.db.builder().Update("requests").
		Set("state", string(ev.State)).
		Set("progress", ev.Progress).
		Set("message", ev.Message).
		Set("updated_at", toMicros(ev.CreatedAt)).
		Where(entsql.EQ("id", id)).
		Query()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to update request", "request_id", id, "error", err)
		return entity.Event{}, common.NewAppError("DB_ERROR", "update request", errors.Join(common.ErrDatabase, err))
	}
	if err := tx.Commit(); err != nil {
		return entity.Event{}, common.WrapError(err, "commit")
	}
	return ev, nil
}

func (r *requestRepo) AddFileError(ctx context.Context, id string, fe entity.FileError) error {
	if fe.CreatedAt.IsZero() {
		fe.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	query, args := r.db.builder().Select("COALESCE(MAX(seq), 0)").
		From(entsql.Table("request_errors")).
		Where(entsql.EQ("request_id", id)).
		Query()
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
		return common.WrapError(err, "next file error seq")
	}
	query, args = r.db.builder().Insert("request_errors").
		Columns("request_id", "seq", "filename", "message", "created_at").
		Values(id, seq+1, fe.Filename, fe.Message, toMicros(fe.CreatedAt)).
		Query()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("failed to insert file error", "request_id", id, "filename", fe.Filename, "error", err)
		return common.NewAppError("DB_ERROR", "insert file error", errors.Join(common.ErrDatabase, err))
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit")
	}
	return nil
}

func (r *requestRepo) ListIDsByState(ctx context.Context, state constants.RequestState) ([]string, error) {
	query, args := r.db.builder().Select("id").
		From(entsql.Table("requests")).
		Where(entsql.EQ("state", string(state))).
		OrderBy("created_at").
		Query()
	rows, err := r.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "list requests by state")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, common.WrapError(err, "scan request id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
