package repo

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"entity-admin/internal/domain"
)

type UserRepo = Repository[domain.User, domain.CreateUserDTO, domain.UpdateUserDTO]

func NewUserRepo(db *gorm.DB, l *zap.Logger) (*UserRepo, error) {
	store, err := NewGormStore[domain.User](db)
	if err != nil {
		return nil, err
	}
	return New[domain.User, domain.CreateUserDTO, domain.UpdateUserDTO](store, Config{
		Collection: "users",
		Omit:       domain.UserHiddenColumns,
	}, l), nil
}
