// Package store defines the document-store contract the engine runs on: single
// document reads and writes, create-if-absent, atomic numeric increments and
// simple filtered queries. No multi-document transactions are offered.
package store

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("document not found")

const (
	CollectionUsers           = "users"
	CollectionReferralCodes   = "referral_codes"
	CollectionReferralClaims  = "referral_claims"
	CollectionReferrals       = "referrals"
	CollectionReferralPayouts = "referral_payouts"
	CollectionQuests          = "quests"
	CollectionQuestProgress   = "quest_progress"
	CollectionQuestAwards     = "quest_awards"
	CollectionXP              = "xp"
)

// Document is a stored record. CreatedAt and UpdatedAt are assigned by the
// store and take precedence over any timestamps inside Data.
type Document struct {
	ID        string
	Data      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return errors.Wrapf(err, "decode document %s", d.ID)
	}
	return nil
}

type Fields map[string]any

type Op string

const (
	OpEq  Op = "=="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpIn  Op = "in"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type OrderBy struct {
	Field string
	Desc  bool
}

// Query selects documents of one collection. Without OrderBy results are
// ordered by document id. Limit <= 0 means no limit.
type Query struct {
	Filters []Filter
	OrderBy []OrderBy
	Limit   int
}

type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Create writes v only if no document with id exists and reports whether
	// it did.
	Create(ctx context.Context, collection, id string, v any) (bool, error)
	Put(ctx context.Context, collection, id string, v any) error
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// Increment atomically adds delta to a numeric field, creating the
	// document when it does not exist.
	Increment(ctx context.Context, collection, id, field string, delta float64) error
	Query(ctx context.Context, collection string, q Query) ([]*Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// Decode runs DataTo over docs, returning one value per document.
func Decode[T any](docs []*Document) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := doc.DataTo(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}
