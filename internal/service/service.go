package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"entity-admin/internal/domain"
	"entity-admin/internal/repo"
)

// Service 通用业务层：存在性检查、批量删除校验、导入导出
type Service[T any, C domain.CreateDTO[T], U domain.UpdateDTO] struct {
	Repo       *repo.Repository[T, C, U]
	collection string
	log        *zap.Logger
}

func New[T any, C domain.CreateDTO[T], U domain.UpdateDTO](r *repo.Repository[T, C, U], l *zap.Logger) *Service[T, C, U] {
	if l == nil {
		l = zap.NewNop()
	}
	return &Service[T, C, U]{
		Repo:       r,
		collection: r.Collection(),
		log:        l.With(zap.String("collection", r.Collection())),
	}
}

func (s *Service[T, C, U]) Collection() string { return s.collection }

// wrap 业务错误与 StoreError 原样返回，其它错误加上集合与操作前缀
func (s *Service[T, C, U]) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsDomain(err) {
		s.log.Warn("service: "+op+" rejected", zap.String("reason", domain.Message(err)))
		return err
	}
	if isKnown(err) {
		return err
	}
	return fmt.Errorf("%s %s: %w", s.collection, op, err)
}

func (s *Service[T, C, U]) notFound() error {
	return domain.NotFound("%s does not exist!", s.collection)
}

func (s *Service[T, C, U]) GetAll(ctx context.Context) ([]T, error) {
	s.log.Info("service: getAll")
	out, err := s.Repo.GetAll(ctx)
	return out, s.wrap("getAll", err)
}

func (s *Service[T, C, U]) GetById(ctx context.Context, id uint) (*T, error) {
	s.log.Info("service: getById", zap.Uint("id", id))
	out, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap("getById", err)
	}
	if out == nil {
		return nil, s.wrap("getById", s.notFound())
	}
	return out, nil
}

func (s *Service[T, C, U]) GetByUuid(ctx context.Context, uuid string) (*T, error) {
	s.log.Info("service: getByUuid", zap.String("uuid", uuid))
	out, err := s.Repo.GetByUuid(ctx, uuid)
	if err != nil {
		return nil, s.wrap("getByUuid", err)
	}
	if out == nil {
		return nil, s.wrap("getByUuid", s.notFound())
	}
	return out, nil
}

// GetByEmail 不存在时返回 (nil, false, nil)，不是错误
func (s *Service[T, C, U]) GetByEmail(ctx context.Context, email string) (*T, bool, error) {
	s.log.Info("service: getByEmail")
	out, err := s.Repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, s.wrap("getByEmail", err)
	}
	return out, out != nil, nil
}

func (s *Service[T, C, U]) FindByQuery(ctx context.Context, q domain.QueryOptions) (domain.PaginatedResult[T], error) {
	s.log.Info("service: findByQuery")
	out, err := s.Repo.FindByQuery(ctx, q)
	return out, s.wrap("findByQuery", err)
}

// Create 基础版本不做唯一性检查，由具体实体覆盖
func (s *Service[T, C, U]) Create(ctx context.Context, dto C) (*T, error) {
	s.log.Info("service: create")
	out, err := s.Repo.Create(ctx, dto)
	return out, s.wrap("create", err)
}

func (s *Service[T, C, U]) Update(ctx context.Context, uuid string, dto U) (*T, error) {
	s.log.Info("service: update", zap.String("uuid", uuid))
	if _, err := s.GetByUuid(ctx, uuid); err != nil {
		return nil, err
	}
	out, err := s.Repo.Update(ctx, uuid, dto)
	return out, s.wrap("update", err)
}

func (s *Service[T, C, U]) Delete(ctx context.Context, uuid string) (*T, error) {
	s.log.Info("service: delete", zap.String("uuid", uuid))
	if _, err := s.GetByUuid(ctx, uuid); err != nil {
		return nil, err
	}
	out, err := s.Repo.Delete(ctx, uuid)
	return out, s.wrap("delete", err)
}

func (s *Service[T, C, U]) DeleteMany(ctx context.Context, uuids []string) (domain.DeleteManyResult, error) {
	s.log.Info("service: deleteMany", zap.Int("uuids", len(uuids)))
	if len(uuids) == 0 {
		return domain.DeleteManyResult{}, s.wrap("deleteMany", domain.InvalidArgument("uuids must be a non-empty array"))
	}
	res, err := s.Repo.DeleteMany(ctx, uuids)
	if err != nil {
		return res, s.wrap("deleteMany", err)
	}
	if res.DeletedCount == 0 {
		return res, s.wrap("deleteMany", domain.NotFound("No %s found to delete", s.collection))
	}
	return res, nil
}

// Import 基础版本不去重；需要唯一性的实体通过 ImportWith 提供判定
func (s *Service[T, C, U]) Import(ctx context.Context, rows []C) (domain.ImportResult[T], error) {
	return s.ImportWith(ctx, rows, nil)
}

func (s *Service[T, C, U]) ImportWith(ctx context.Context, rows []C, skip repo.SkipFunc[C]) (domain.ImportResult[T], error) {
	s.log.Info("service: import", zap.Int("rows", len(rows)))
	res, err := s.Repo.Import(ctx, rows, skip)
	if err != nil {
		importRows.WithLabelValues(s.collection, "failed").Add(float64(len(rows)))
		return res, s.wrap("import", err)
	}
	importRows.WithLabelValues(s.collection, "created").Add(float64(res.CreatedCount))
	importRows.WithLabelValues(s.collection, "skipped").Add(float64(res.SkippedCount))
	return res, nil
}
