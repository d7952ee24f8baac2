package repository

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"referral_engine/internal/errs"
	"referral_engine/internal/store"

	"github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var _ store.Store = (*Repository)(nil)

type documentRow struct {
	ID        string    `db:"id"`
	Body      []byte    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (d *documentRow) toDocument() *store.Document {
	return &store.Document{
		ID:        d.ID,
		Data:      d.Body,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

var comparisonOps = map[store.Op]string{
	store.OpEq:  "=",
	store.OpGt:  ">",
	store.OpGte: ">=",
	store.OpLt:  "<",
	store.OpLte: "<=",
}

func (r *Repository) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	query, args, err := squirrel.
		Select("id", "body", "created_at", "updated_at").
		From(documentsTable).
		Where(squirrel.Eq{"collection": collection, "id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build get query: %w", err)
	}

	var row documentRow
	err = r.db.GetContext(ctx, &row, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errs.Transient("get", errors.Wrapf(err, "get %s/%s", collection, id))
	}

	return row.toDocument(), nil
}

func (r *Repository) Create(ctx context.Context, collection, id string, v any) (bool, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return false, errors.Wrapf(err, "encode %s/%s", collection, id)
	}

	query, args, err := squirrel.
		Insert(documentsTable).
		Columns("collection", "id", "body").
		Values(collection, id, string(body)).
		Suffix("ON CONFLICT (collection, id) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build create query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errs.Transient("create", errors.Wrapf(err, "create %s/%s", collection, id))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errs.Transient("create", errors.Wrap(err, "failed to get affected rows"))
	}

	return rows == 1, nil
}

func (r *Repository) Put(ctx context.Context, collection, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", collection, id)
	}

	query, args, err := squirrel.
		Insert(documentsTable).
		Columns("collection", "id", "body").
		Values(collection, id, string(body)).
		Suffix("ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = now()").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build put query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errs.Transient("put", errors.Wrapf(err, "put %s/%s", collection, id))
	}

	return nil
}

func (r *Repository) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrapf(err, "encode update %s/%s", collection, id)
	}

	query, args, err := squirrel.
		Update(documentsTable).
		Set("body", squirrel.Expr("body || ?::jsonb", string(patch))).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"collection": collection, "id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errs.Transient("update", errors.Wrapf(err, "update %s/%s", collection, id))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errs.Transient("update", errors.Wrap(err, "failed to get affected rows"))
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	return nil
}

func (r *Repository) Increment(ctx context.Context, collection, id, field string, delta float64) error {
	query, args, err := squirrel.
		Insert(documentsTable).
		Columns("collection", "id", "body").
		Values(collection, id, squirrel.Expr("jsonb_build_object(?::text, ?::numeric)", field, delta)).
		Suffix(
			"ON CONFLICT (collection, id) DO UPDATE SET "+
				"body = jsonb_set(documents.body, ARRAY[?::text], "+
				"to_jsonb(COALESCE((documents.body->>?)::numeric, 0) + ?::numeric)), "+
				"updated_at = now()",
			field, field, delta,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build increment query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errs.Transient("increment", errors.Wrapf(err, "increment %s/%s.%s", collection, id, field))
	}

	return nil
}

func (r *Repository) Query(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	builder := squirrel.
		Select("id", "body", "created_at", "updated_at").
		From(documentsTable).
		Where(squirrel.Eq{"collection": collection})

	for _, f := range q.Filters {
		pred, err := filterExpr(f)
		if err != nil {
			return nil, errs.Validation(err)
		}
		builder = builder.Where(pred)
	}

	for _, o := range q.OrderBy {
		direction := "ASC"
		if o.Desc {
			direction = "DESC"
		}
		builder = builder.OrderByClause("body -> ? "+direction, o.Field)
	}
	builder = builder.OrderBy("id")

	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}

	query, args, err := builder.PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []*documentRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errs.Transient("query", errors.Wrapf(err, "query %s", collection))
	}

	docs := make([]*store.Document, len(rows))
	for i, row := range rows {
		docs[i] = row.toDocument()
	}

	return docs, nil
}

func (r *Repository) Delete(ctx context.Context, collection, id string) error {
	query, args, err := squirrel.
		Delete(documentsTable).
		Where(squirrel.Eq{"collection": collection, "id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errs.Transient("delete", errors.Wrapf(err, "delete %s/%s", collection, id))
	}

	return nil
}

// filterExpr compares JSON values with jsonb semantics, so numbers compare
// numerically and strings lexically.
func filterExpr(f store.Filter) (squirrel.Sqlizer, error) {
	if f.Op == store.OpIn {
		values, err := encodeList(f.Value)
		if err != nil {
			return nil, err
		}
		return squirrel.Expr("body -> ? = ANY(?::jsonb[])", f.Field, pq.Array(values)), nil
	}

	op, ok := comparisonOps[f.Op]
	if !ok {
		return nil, fmt.Errorf("unsupported filter operator %q", f.Op)
	}

	value, err := json.Marshal(f.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "encode filter value for %s", f.Field)
	}

	return squirrel.Expr("body -> ? "+op+" ?::jsonb", f.Field, string(value)), nil
}

func encodeList(list any) ([]string, error) {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("in filter requires a slice, got %T", list)
	}

	out := make([]string, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		value, err := json.Marshal(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = string(value)
	}
	return out, nil
}
