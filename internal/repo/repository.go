package repo

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"entity-admin/internal/domain"
)

type Config struct {
	Collection string   // 集合名，用于日志/错误前缀
	Omit       []string // 读接口默认隐藏的列
	OwnerField string   // GetByUser 使用的外键列，默认 user_id
}

// SkipFunc 导入时的去重判定，由 Service 提供
type SkipFunc[C any] func(ctx context.Context, row C) (bool, error)

// Repository 单集合的通用数据访问层
type Repository[T any, C domain.CreateDTO[T], U domain.UpdateDTO] struct {
	store Store[T]
	cfg   Config
	log   *zap.Logger
}

func New[T any, C domain.CreateDTO[T], U domain.UpdateDTO](store Store[T], cfg Config, l *zap.Logger) *Repository[T, C, U] {
	if cfg.OwnerField == "" {
		cfg.OwnerField = "user_id"
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Repository[T, C, U]{store: store, cfg: cfg, log: l.With(zap.String("collection", cfg.Collection))}
}

func (r *Repository[T, C, U]) Collection() string { return r.cfg.Collection }

// Omit 返回隐藏列的副本
func (r *Repository[T, C, U]) Omit() []string { return append([]string(nil), r.cfg.Omit...) }

func (r *Repository[T, C, U]) trace(op string, fields ...zap.Field) {
	r.log.Info("repository: "+op, fields...)
}

// fail 记录 warn；业务错误原样返回，唯一键冲突转为 Conflict，其余包装为 StoreError
func (r *Repository[T, C, U]) fail(op string, err error) error {
	r.log.Warn("repository: "+op+" failed", zap.Error(err))
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if IsDuplicateKey(err) {
		return domain.Conflict("%s already exists!", r.cfg.Collection)
	}
	return domain.Store(r.cfg.Collection+" repository: "+op, err)
}

func (r *Repository[T, C, U]) GetAll(ctx context.Context) ([]T, error) {
	r.trace("getAll")
	out, err := r.store.FindMany(ctx, FindOptions{Omit: r.cfg.Omit})
	if err != nil {
		return nil, r.fail("getAll", err)
	}
	return out, nil
}

func (r *Repository[T, C, U]) unique(ctx context.Context, op, field string, value any, omit []string) (*T, error) {
	r.trace(op, zap.Any(field, value))
	out, err := r.store.FindUnique(ctx, field, value, omit)
	if err != nil {
		return nil, r.fail(op, err)
	}
	return out, nil
}

func (r *Repository[T, C, U]) GetByID(ctx context.Context, id uint) (*T, error) {
	return r.unique(ctx, "getById", "id", id, r.cfg.Omit)
}

func (r *Repository[T, C, U]) GetByUuid(ctx context.Context, uuid string) (*T, error) {
	return r.unique(ctx, "getByUuid", "uuid", uuid, r.cfg.Omit)
}

// GetByEmail 不做列隐藏：登录校验需要密码哈希
func (r *Repository[T, C, U]) GetByEmail(ctx context.Context, email string) (*T, error) {
	return r.unique(ctx, "getByEmail", "email", email, nil)
}

func (r *Repository[T, C, U]) GetByUsername(ctx context.Context, username string) (*T, error) {
	return r.unique(ctx, "getByUsername", "username", username, r.cfg.Omit)
}

func (r *Repository[T, C, U]) GetByUser(ctx context.Context, userID any) ([]T, error) {
	r.trace("getByUser", zap.Any("userId", userID))
	out, err := r.store.FindMany(ctx, FindOptions{
		Filter: domain.Filter{Fields: map[string]domain.Condition{r.cfg.OwnerField: domain.Equals(userID)}},
		Omit:   r.cfg.Omit,
	})
	if err != nil {
		return nil, r.fail("getByUser", err)
	}
	return out, nil
}

// GetByField 内部使用的等值查询，允许隐藏列作为条件
func (r *Repository[T, C, U]) GetByField(ctx context.Context, field string, value any) ([]T, error) {
	r.trace("getByField", zap.String("field", field))
	out, err := r.store.FindMany(ctx, FindOptions{
		Filter:   domain.Filter{Fields: map[string]domain.Condition{field: domain.Equals(value)}},
		Omit:     r.cfg.Omit,
		Internal: true,
	})
	if err != nil {
		return nil, r.fail("getByField", err)
	}
	return out, nil
}

// FindByQuery count 与分页查询并发执行，两者之间不保证快照一致
func (r *Repository[T, C, U]) FindByQuery(ctx context.Context, q domain.QueryOptions) (domain.PaginatedResult[T], error) {
	var res domain.PaginatedResult[T]
	q, err := q.Normalize()
	if err != nil {
		return res, r.fail("findByQuery", err)
	}
	page, perPage := q.Paginate.Page, q.Paginate.PerPage
	r.trace("findByQuery", zap.Int("page", page), zap.Int("perPage", perPage))

	opts := FindOptions{
		Filter:  q.Filter,
		OrderBy: q.OrderBy,
		Skip:    (page - 1) * perPage,
		Take:    perPage,
		Omit:    r.cfg.Omit,
	}

	var (
		data  []T
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = r.store.Count(gctx, opts)
		return err
	})
	g.Go(func() error {
		var err error
		data, err = r.store.FindMany(gctx, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return res, r.fail("findByQuery", err)
	}

	return domain.PaginatedResult[T]{
		Data:       data,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: domain.TotalPages(total, perPage),
	}, nil
}

// Create 原样写入，不做唯一性检查
func (r *Repository[T, C, U]) Create(ctx context.Context, dto C) (*T, error) {
	r.trace("create")
	item := dto.ToEntity()
	if err := r.store.Create(ctx, &item); err != nil {
		return nil, r.fail("create", err)
	}
	return &item, nil
}

// Update 按 uuid 合并提供的字段，返回更新后的记录
func (r *Repository[T, C, U]) Update(ctx context.Context, uuid string, dto U) (*T, error) {
	return r.UpdateFields(ctx, uuid, dto.Changes())
}

// UpdateFields 列级更新（改密等专用流程使用）；uuid 不存在时返回包装了 ErrNoRecord 的 StoreError
func (r *Repository[T, C, U]) UpdateFields(ctx context.Context, uuid string, changes map[string]any) (*T, error) {
	r.trace("update", zap.String("uuid", uuid), zap.Int("fields", len(changes)))
	if _, err := r.store.Update(ctx, "uuid", uuid, changes); err != nil {
		return nil, r.fail("update", err)
	}
	out, err := r.store.FindUnique(ctx, "uuid", uuid, r.cfg.Omit)
	if err != nil {
		return nil, r.fail("update", err)
	}
	if out == nil {
		return nil, r.fail("update", ErrNoRecord)
	}
	return out, nil
}

// Delete 硬删除并返回被删除的记录
func (r *Repository[T, C, U]) Delete(ctx context.Context, uuid string) (*T, error) {
	r.trace("delete", zap.String("uuid", uuid))
	item, err := r.store.FindUnique(ctx, "uuid", uuid, r.cfg.Omit)
	if err != nil {
		return nil, r.fail("delete", err)
	}
	if item == nil {
		return nil, r.fail("delete", ErrNoRecord)
	}
	if _, err := r.store.Delete(ctx, "uuid", uuid); err != nil {
		return nil, r.fail("delete", err)
	}
	return item, nil
}

func (r *Repository[T, C, U]) DeleteMany(ctx context.Context, uuids []string) (domain.DeleteManyResult, error) {
	r.trace("deleteMany", zap.Int("uuids", len(uuids)))
	n, err := r.store.DeleteMany(ctx, "uuid", uuids)
	if err != nil {
		return domain.DeleteManyResult{}, r.fail("deleteMany", err)
	}
	return domain.DeleteManyResult{DeletedCount: n}, nil
}

// Import 逐行（按输入顺序）调用 skip 判定，再一次性批量写入未跳过的行
func (r *Repository[T, C, U]) Import(ctx context.Context, rows []C, skip SkipFunc[C]) (domain.ImportResult[T], error) {
	r.trace("import", zap.Int("rows", len(rows)))
	res := domain.ImportResult[T]{CreatedEntities: make([]T, 0, len(rows))}

	for _, row := range rows {
		if skip != nil {
			dup, err := skip(ctx, row)
			if err != nil {
				return domain.ImportResult[T]{}, r.fail("import", err)
			}
			if dup {
				res.SkippedCount++
				continue
			}
		}
		res.CreatedEntities = append(res.CreatedEntities, row.ToEntity())
	}

	if err := r.store.CreateMany(ctx, res.CreatedEntities); err != nil {
		return domain.ImportResult[T]{}, r.fail("import", err)
	}
	res.CreatedCount = len(res.CreatedEntities)
	return res, nil
}
