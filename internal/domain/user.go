package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateDTO 可转换为实体的创建入参
type CreateDTO[T any] interface {
	ToEntity() T
}

// UpdateDTO 部分更新：只返回本次提供的列
type UpdateDTO interface {
	Changes() map[string]any
}

type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UUID        string    `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Name        string    `gorm:"size:64" json:"name"`
	Username    string    `gorm:"uniqueIndex;size:64" json:"username"`
	Email       string    `gorm:"uniqueIndex;size:191" json:"email"`
	Password    string    `gorm:"size:100" json:"-"`
	Bio         *string   `gorm:"size:500" json:"bio"`
	PhoneNumber *string   `gorm:"size:32" json:"phoneNumber"`
	ResetToken  *string   `gorm:"size:512" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// BeforeCreate 未预先分配 uuid 时自动生成
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	return nil
}

// UserHiddenColumns 读接口默认不返回的列
var UserHiddenColumns = []string{"password", "reset_token"}

type CreateUserDTO struct {
	UUID        string    `json:"-" mapstructure:"uuid"`
	Name        string    `json:"name" binding:"required,min=4" mapstructure:"name"`
	Username    string    `json:"username" binding:"required,min=4" mapstructure:"username"`
	Email       string    `json:"email" binding:"required,email" mapstructure:"email"`
	Password    string    `json:"password" binding:"required,strongpw" mapstructure:"password"`
	Bio         *string   `json:"bio" mapstructure:"bio"`
	PhoneNumber *string   `json:"phoneNumber" mapstructure:"phonenumber"`
	ResetToken  *string   `json:"-" mapstructure:"resettoken"`
	CreatedAt   time.Time `json:"-" mapstructure:"createdat"`
	UpdatedAt   time.Time `json:"-" mapstructure:"updatedat"`
}

func (d CreateUserDTO) ToEntity() User {
	return User{
		UUID:        d.UUID,
		Name:        d.Name,
		Username:    d.Username,
		Email:       d.Email,
		Password:    d.Password,
		Bio:         d.Bio,
		PhoneNumber: d.PhoneNumber,
		ResetToken:  d.ResetToken,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// UpdateUserDTO 不包含 id/uuid/createdAt/password；改密走单独流程
type UpdateUserDTO struct {
	Name        *string    `json:"name" binding:"omitempty,min=4"`
	Username    *string    `json:"username" binding:"omitempty,min=4"`
	Email       *string    `json:"email" binding:"omitempty,email"`
	Bio         *string    `json:"bio"`
	PhoneNumber *string    `json:"phoneNumber"`
	ResetToken  *string    `json:"-"`
	UpdatedAt   *time.Time `json:"-"`

	// 显式传 null 时清空对应列；缺省的字段保持不变
	ClearBio         bool `json:"-"`
	ClearPhoneNumber bool `json:"-"`
}

// UnmarshalJSON 区分 "bio": null 与未传 bio
func (d *UpdateUserDTO) UnmarshalJSON(b []byte) error {
	type plain UpdateUserDTO
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = UpdateUserDTO(p)
	d.ClearBio = isJSONNull(raw["bio"])
	d.ClearPhoneNumber = isJSONNull(raw["phoneNumber"])
	return nil
}

func isJSONNull(v json.RawMessage) bool {
	return v != nil && bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func (d UpdateUserDTO) Changes() map[string]any {
	m := map[string]any{}
	set := func(col string, v *string) {
		if v != nil {
			m[col] = *v
		}
	}
	set("name", d.Name)
	set("username", d.Username)
	set("email", d.Email)
	set("bio", d.Bio)
	set("phone_number", d.PhoneNumber)
	set("reset_token", d.ResetToken)
	if d.ClearBio {
		m["bio"] = nil
	}
	if d.ClearPhoneNumber {
		m["phone_number"] = nil
	}
	if d.UpdatedAt != nil {
		m["updated_at"] = *d.UpdatedAt
	}
	return m
}

// LoginDTO / RegisterDTO / 重置密码入参
type LoginDTO struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,strongpw"`
}

type ForgotPasswordDTO struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordDTO struct {
	ResetToken      string `json:"resetToken" binding:"required"`
	Password        string `json:"password" binding:"required,strongpw"`
	ConfirmPassword string `json:"confirmPassword" binding:"required,min=8"`
}

type TokenDTO struct {
	Token string `json:"token" binding:"required"`
}

type DeleteManyDTO struct {
	UUIDs []string `json:"uuids"`
}
