package repo

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"entity-admin/internal/domain"
)

// ErrNoRecord 存储层“记录不存在”
var ErrNoRecord = gorm.ErrRecordNotFound

// IsDuplicateKey 唯一约束冲突；未开启 TranslateError 的连接按驱动报错文本兜底
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation")
}

type FindOptions struct {
	Filter  domain.Filter
	OrderBy []domain.OrderBy
	Skip    int
	Take    int
	Omit    []string

	// Internal 为 true 时允许按隐藏列过滤（服务内部查询，如 reset_token）
	Internal bool
}

// Store 单表能力接口；任何存储适配器实现它即可替换
type Store[T any] interface {
	FindMany(ctx context.Context, opts FindOptions) ([]T, error)
	FindUnique(ctx context.Context, field string, value any, omit []string) (*T, error)
	Count(ctx context.Context, opts FindOptions) (int64, error)
	Create(ctx context.Context, item *T) error
	CreateMany(ctx context.Context, items []T) error
	Update(ctx context.Context, field string, value any, changes map[string]any) (int64, error)
	Delete(ctx context.Context, field string, value any) (int64, error)
	DeleteMany(ctx context.Context, field string, values []string) (int64, error)
}

// GormStore 基于 gorm 的 Store 实现
type GormStore[T any] struct {
	db      *gorm.DB
	columns map[string]string
}

func NewGormStore[T any](db *gorm.DB) (*GormStore[T], error) {
	sch, err := schema.Parse(new(T), &sync.Map{}, db.NamingStrategy)
	if err != nil {
		return nil, err
	}
	cols := map[string]string{}
	for _, f := range sch.Fields {
		if f.DBName == "" {
			continue
		}
		cols[f.DBName] = f.DBName
		cols[f.Name] = f.DBName
		if tag := strings.Split(f.Tag.Get("json"), ",")[0]; tag != "" && tag != "-" {
			cols[tag] = f.DBName
		}
	}
	return &GormStore[T]{db: db, columns: cols}, nil
}

// Column 解析字段名（json 名 / Go 字段名 / 列名均可）
func (s *GormStore[T]) Column(name string) (string, error) {
	if col, ok := s.columns[name]; ok {
		return col, nil
	}
	return "", unknownField(name)
}

func (s *GormStore[T]) resolver(opts FindOptions) ColumnResolver {
	return func(name string) (string, error) {
		col, err := s.Column(name)
		if err != nil {
			return "", err
		}
		if !opts.Internal && slices.Contains(opts.Omit, col) {
			return "", unknownField(name)
		}
		return col, nil
	}
}

func (s *GormStore[T]) scoped(ctx context.Context, opts FindOptions) (*gorm.DB, error) {
	q := s.db.WithContext(ctx).Model(new(T))
	where, err := BuildWhere(opts.Filter, s.resolver(opts))
	if err != nil {
		return nil, err
	}
	if where != nil {
		q = q.Clauses(clause.Where{Exprs: []clause.Expression{where}})
	}
	return q, nil
}

func (s *GormStore[T]) FindMany(ctx context.Context, opts FindOptions) ([]T, error) {
	q, err := s.scoped(ctx, opts)
	if err != nil {
		return nil, err
	}
	order, err := BuildOrder(opts.OrderBy, s.resolver(opts))
	if err != nil {
		return nil, err
	}
	for _, o := range order {
		q = q.Order(o)
	}
	if len(opts.Omit) > 0 {
		q = q.Omit(opts.Omit...)
	}
	if opts.Skip > 0 {
		q = q.Offset(opts.Skip)
	}
	if opts.Take > 0 {
		q = q.Limit(opts.Take)
	}
	out := make([]T, 0)
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindUnique 不存在返回 (nil, nil)
func (s *GormStore[T]) FindUnique(ctx context.Context, field string, value any, omit []string) (*T, error) {
	col, err := s.Column(field)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Model(new(T)).Where(clause.Eq{Column: clause.Column{Name: col}, Value: value})
	if len(omit) > 0 {
		q = q.Omit(omit...)
	}
	var out T
	err = q.Take(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GormStore[T]) Count(ctx context.Context, opts FindOptions) (int64, error) {
	q, err := s.scoped(ctx, opts)
	if err != nil {
		return 0, err
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *GormStore[T]) Create(ctx context.Context, item *T) error {
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *GormStore[T]) CreateMany(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&items).Error
}

// Update 返回受影响行数；changes 为空时只确认记录存在
func (s *GormStore[T]) Update(ctx context.Context, field string, value any, changes map[string]any) (int64, error) {
	col, err := s.Column(field)
	if err != nil {
		return 0, err
	}
	cond := clause.Eq{Column: clause.Column{Name: col}, Value: value}
	if len(changes) == 0 {
		var n int64
		err := s.db.WithContext(ctx).Model(new(T)).Where(cond).Count(&n).Error
		return n, err
	}
	assign := make(map[string]any, len(changes))
	for k, v := range changes {
		c, err := s.Column(k)
		if err != nil {
			return 0, err
		}
		assign[c] = v
	}
	res := s.db.WithContext(ctx).Model(new(T)).Where(cond).Updates(assign)
	return res.RowsAffected, res.Error
}

func (s *GormStore[T]) Delete(ctx context.Context, field string, value any) (int64, error) {
	col, err := s.Column(field)
	if err != nil {
		return 0, err
	}
	res := s.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: col}, Value: value}).Delete(new(T))
	return res.RowsAffected, res.Error
}

func (s *GormStore[T]) DeleteMany(ctx context.Context, field string, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	col, err := s.Column(field)
	if err != nil {
		return 0, err
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	res := s.db.WithContext(ctx).Where(clause.IN{Column: clause.Column{Name: col}, Values: vals}).Delete(new(T))
	return res.RowsAffected, res.Error
}
