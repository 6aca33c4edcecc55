package repository

import (
	"context"
	"errors"

	"activations-controlplane/pkg/db/option"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoRowsAffected is returned by conditional writes that matched nothing.
var ErrNoRowsAffected = errors.New("repository: no rows affected")

type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	CreateOrIgnore(ctx context.Context, resource *T, conflictColumns ...string) (bool, error)
	Update(ctx context.Context, resourceID string, resource any) error
	UpdateWhere(ctx context.Context, query *T, resource any, opts ...option.QueryOption) (int64, error)
	Delete(ctx context.Context, resourceID string) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return s
	}
	return &store[T]{db: tx}
}

func (s *store[T]) query(ctx context.Context, query *T, opts []option.QueryOption) *gorm.DB {
	db := s.db.WithContext(ctx).Model(new(T))
	if query != nil {
		db = db.Where(query)
	}
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

func (s *store[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var out []*T
	if err := s.query(ctx, query, opts).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindOne returns nil without error when nothing matches.
func (s *store[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var out []*T
	res := s.query(ctx, query, opts).Limit(1).Find(&out)
	if res.Error != nil {
		return nil, res.Error
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (s *store[T]) Create(ctx context.Context, resource *T) error {
	return s.db.WithContext(ctx).Create(resource).Error
}

// CreateOrIgnore inserts resource unless a row with the same conflict columns
// exists. It reports whether a row was inserted. Unlike Create it does not
// abort an enclosing postgres transaction on conflict.
func (s *store[T]) CreateOrIgnore(ctx context.Context, resource *T, conflictColumns ...string) (bool, error) {
	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, c := range conflictColumns {
		columns = append(columns, clause.Column{Name: c})
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: columns, DoNothing: true}).Create(resource)
	return res.RowsAffected == 1, res.Error
}

func (s *store[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m, ok := resource.(*map[string]any); ok {
		resource = *m
	}
	return s.db.WithContext(ctx).Model(new(T)).Where("id = ?", resourceID).Updates(resource).Error
}

// UpdateWhere applies resource to every row matching query and opts and
// reports how many rows changed. Conditional writes rely on it.
func (s *store[T]) UpdateWhere(ctx context.Context, query *T, resource any, opts ...option.QueryOption) (int64, error) {
	if m, ok := resource.(*map[string]any); ok {
		resource = *m
	}
	res := s.query(ctx, query, opts).Updates(resource)
	return res.RowsAffected, res.Error
}

func (s *store[T]) Delete(ctx context.Context, resourceID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", resourceID).Delete(new(T))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (s *store[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	var n int64
	if err := s.query(ctx, query, opts).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// IsUniqueViolation reports whether err is a duplicate key error from
// postgres or sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
