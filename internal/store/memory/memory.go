// Package memory is an in-process implementation of store.Store used by tests
// and local runs. Every operation holds a single lock, so each call is atomic
// with respect to the others, matching the single-document guarantees of the
// real store.
package memory

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"referral_engine/internal/store"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

type entry struct {
	data      []byte
	createdAt time.Time
	updatedAt time.Time
}

type Store struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	collections map[string]map[string]*entry
}

var _ store.Store = (*Store)(nil)

func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:       clock,
		collections: make(map[string]map[string]*entry),
	}
}

func (s *Store) collection(name string) map[string]*entry {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]*entry)
		s.collections[name] = c
	}
	return c
}

func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collection(collection)[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.document(id), nil
}

func (s *Store) Create(ctx context.Context, collection, id string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false, errors.Wrapf(err, "encode %s/%s", collection, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, exists := c[id]; exists {
		return false, nil
	}

	now := s.clock.Now().UTC()
	c[id] = &entry{data: data, createdAt: now, updatedAt: now}
	return true, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", collection, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	c := s.collection(collection)
	if e, exists := c[id]; exists {
		e.data = data
		e.updatedAt = now
		return nil
	}
	c[id] = &entry{data: data, createdAt: now, updatedAt: now}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	patch, err := normalize(fields)
	if err != nil {
		return errors.Wrapf(err, "encode update %s/%s", collection, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collection(collection)[id]
	if !ok {
		return store.ErrNotFound
	}

	body, err := e.fields()
	if err != nil {
		return err
	}
	for k, v := range patch {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", collection, id)
	}
	e.data = data
	e.updatedAt = s.clock.Now().UTC()
	return nil
}

func (s *Store) Increment(ctx context.Context, collection, id, field string, delta float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	c := s.collection(collection)
	e, ok := c[id]
	if !ok {
		e = &entry{data: []byte("{}"), createdAt: now}
		c[id] = e
	}

	body, err := e.fields()
	if err != nil {
		return err
	}
	current, _ := toFloat(body[field])
	body[field] = current + delta

	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", collection, id)
	}
	e.data = data
	e.updatedAt = now
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		id     string
		e      *entry
		fields map[string]any
	}

	var rows []row
	for id, e := range s.collection(collection) {
		fields, err := e.fields()
		if err != nil {
			return nil, err
		}
		if matches(fields, q.Filters) {
			rows = append(rows, row{id: id, e: e, fields: fields})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		for _, o := range q.OrderBy {
			c := compare(rows[i].fields[o.Field], rows[j].fields[o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return rows[i].id < rows[j].id
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	docs := make([]*store.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.e.document(r.id)
	}
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collection(collection), id)
	return nil
}

func (e *entry) document(id string) *store.Document {
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return &store.Document{
		ID:        id,
		Data:      data,
		CreatedAt: e.createdAt,
		UpdatedAt: e.updatedAt,
	}
}

func (e *entry) fields() (map[string]any, error) {
	body := make(map[string]any)
	if err := json.Unmarshal(e.data, &body); err != nil {
		return nil, errors.Wrap(err, "decode stored document")
	}
	return body, nil
}

// normalize round-trips fields through JSON so stored values have the same
// shape as values read back.
func normalize(fields store.Fields) (map[string]any, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(fields map[string]any, filters []store.Filter) bool {
	for _, f := range filters {
		v, ok := fields[f.Field]
		if !ok {
			return false
		}

		switch f.Op {
		case store.OpEq:
			if compare(v, f.Value) != 0 {
				return false
			}
		case store.OpGt:
			if compare(v, f.Value) <= 0 {
				return false
			}
		case store.OpGte:
			if compare(v, f.Value) < 0 {
				return false
			}
		case store.OpLt:
			if compare(v, f.Value) >= 0 {
				return false
			}
		case store.OpLte:
			if compare(v, f.Value) > 0 {
				return false
			}
		case store.OpIn:
			if !contains(f.Value, v) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func contains(list, v any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if compare(v, rv.Index(i).Interface()) == 0 {
			return true
		}
	}
	return false
}

// compare orders numbers numerically and everything else by its string form.
// Missing values sort first.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.Trim(string(data), `"`)
	}
}
