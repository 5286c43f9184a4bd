package utils

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Hasher bcrypt 封装，Cost 来自配置（hash.cost）
type Hasher struct{ Cost int }

func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{Cost: cost}
}

func (h Hasher) Hash(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h Hasher) Check(pw, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(pw)) == nil
}

func NewID() string { return uuid.NewString() }
