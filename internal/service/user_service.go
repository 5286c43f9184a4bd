package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"entity-admin/internal/domain"
	"entity-admin/internal/repo"
	"entity-admin/pkg/utils"
)

type baseUserService = Service[domain.User, domain.CreateUserDTO, domain.UpdateUserDTO]

// UserService 用户：邮箱/用户名唯一、密码哈希、导入去重都在这一层
type UserService struct {
	*baseUserService
	hasher utils.Hasher
	now    func() time.Time
	newID  func() string
}

func NewUserService(r *repo.UserRepo, h utils.Hasher, l *zap.Logger) *UserService {
	return &UserService{
		baseUserService: New(r, l),
		hasher:          h,
		now:             time.Now,
		newID:           utils.NewID,
	}
}

func (s *UserService) Hasher() utils.Hasher { return s.hasher }

// ensureUnique selfUUID 非空时忽略自身记录
func (s *UserService) ensureUnique(ctx context.Context, op string, email, username *string, selfUUID string) error {
	if email != nil {
		u, err := s.Repo.GetByEmail(ctx, *email)
		if err != nil {
			return s.wrap(op, err)
		}
		if u != nil && u.UUID != selfUUID {
			return s.wrap(op, domain.Conflict("%s already exists!", s.collection))
		}
	}
	if username != nil {
		u, err := s.Repo.GetByUsername(ctx, *username)
		if err != nil {
			return s.wrap(op, err)
		}
		if u != nil && u.UUID != selfUUID {
			return s.wrap(op, domain.Conflict("username is taken!"))
		}
	}
	return nil
}

// Create 只写入 uuid/name/email/username/密码哈希，其余字段丢弃
func (s *UserService) Create(ctx context.Context, dto domain.CreateUserDTO) (*domain.User, error) {
	s.log.Info("service: create", zap.String("email", dto.Email))
	if strings.TrimSpace(dto.Email) == "" || strings.TrimSpace(dto.Username) == "" {
		return nil, s.wrap("create", domain.InvalidArgument("email and username are required"))
	}
	if err := s.ensureUnique(ctx, "create", &dto.Email, &dto.Username, ""); err != nil {
		return nil, err
	}
	hashed, err := s.hasher.Hash(dto.Password)
	if err != nil {
		return nil, s.wrap("create", err)
	}
	out, err := s.Repo.Create(ctx, domain.CreateUserDTO{
		UUID:     s.newID(),
		Name:     dto.Name,
		Email:    dto.Email,
		Username: dto.Username,
		Password: hashed,
	})
	if err != nil {
		return nil, s.conflictDetail(ctx, "create", err, &dto.Email, &dto.Username, "")
	}
	return out, nil
}

// conflictDetail 并发写入时预检会漏过，由唯一索引兜底；这里重新查一次给出具体冲突字段
func (s *UserService) conflictDetail(ctx context.Context, op string, err error, email, username *string, selfUUID string) error {
	if !errors.Is(err, domain.ErrConflict) {
		return s.wrap(op, err)
	}
	if detail := s.ensureUnique(ctx, op, email, username, selfUUID); detail != nil {
		return detail
	}
	return s.wrap(op, err)
}

// Update 不处理密码；改密走 RotatePassword
func (s *UserService) Update(ctx context.Context, uuid string, dto domain.UpdateUserDTO) (*domain.User, error) {
	s.log.Info("service: update", zap.String("uuid", uuid))
	if _, err := s.GetByUuid(ctx, uuid); err != nil {
		return nil, err
	}
	if err := s.ensureUnique(ctx, "update", dto.Email, dto.Username, uuid); err != nil {
		return nil, err
	}
	now := s.now()
	dto.UpdatedAt = &now
	out, err := s.Repo.Update(ctx, uuid, dto)
	if err != nil {
		return nil, s.conflictDetail(ctx, "update", err, dto.Email, dto.Username, uuid)
	}
	return out, nil
}

// Import 按输入顺序逐行判定：邮箱或用户名为空、库中已有相同邮箱或用户名、或与本批次前面的行重复，均跳过
func (s *UserService) Import(ctx context.Context, rows []domain.CreateUserDTO) (domain.ImportResult[domain.User], error) {
	seenEmail := make(map[string]struct{}, len(rows))
	seenUsername := make(map[string]struct{}, len(rows))

	skip := func(ctx context.Context, row domain.CreateUserDTO) (bool, error) {
		email, username := strings.TrimSpace(row.Email), strings.TrimSpace(row.Username)
		if email == "" || username == "" {
			s.log.Warn("service: import row without email or username skipped", zap.String("name", row.Name))
			return true, nil
		}
		if _, ok := seenEmail[email]; ok {
			return true, nil
		}
		if _, ok := seenUsername[username]; ok {
			return true, nil
		}
		u, err := s.Repo.GetByEmail(ctx, row.Email)
		if err != nil {
			return false, err
		}
		if u == nil {
			if u, err = s.Repo.GetByUsername(ctx, row.Username); err != nil {
				return false, err
			}
		}
		if u != nil {
			return true, nil
		}
		seenEmail[email] = struct{}{}
		seenUsername[username] = struct{}{}
		return false, nil
	}
	return s.ImportWith(ctx, rows, skip)
}

// RotatePassword 专用改密：写入新哈希并清空 reset_token
func (s *UserService) RotatePassword(ctx context.Context, uuid, hashed string) error {
	s.log.Info("service: rotatePassword", zap.String("uuid", uuid))
	_, err := s.Repo.UpdateFields(ctx, uuid, map[string]any{
		"password":    hashed,
		"reset_token": nil,
		"updated_at":  s.now(),
	})
	return s.wrap("rotatePassword", err)
}

func (s *UserService) SetResetToken(ctx context.Context, uuid, token string) error {
	s.log.Info("service: setResetToken", zap.String("uuid", uuid))
	_, err := s.Repo.UpdateFields(ctx, uuid, map[string]any{
		"reset_token": token,
		"updated_at":  s.now(),
	})
	return s.wrap("setResetToken", err)
}

// FindByResetToken 不存在时返回 NotFound
func (s *UserService) FindByResetToken(ctx context.Context, token string) (*domain.User, error) {
	users, err := s.Repo.GetByField(ctx, "reset_token", token)
	if err != nil {
		return nil, s.wrap("findByResetToken", err)
	}
	if len(users) == 0 {
		return nil, s.wrap("findByResetToken", s.notFound())
	}
	return &users[0], nil
}
