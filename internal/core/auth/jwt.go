package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	PurposeAccess = "access"
	PurposeReset  = "reset"
)

var ErrWrongPurpose = errors.New("token purpose mismatch")

// Identity 写入 token 的用户信息（不含密码）
type Identity struct {
	UserID   uint   `json:"id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

type Claims struct {
	Identity
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

type JWTer struct {
	Secret   []byte
	Issuer   string
	TTL      time.Duration
	ResetTTL time.Duration
}

func (j *JWTer) issue(id Identity, purpose string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Identity: id,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.Issuer,
			Subject:   id.UUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// Issue 登录会话 token
func (j *JWTer) Issue(id Identity) (string, error) { return j.issue(id, PurposeAccess, j.TTL) }

// IssueReset 找回密码用的一次性 token，只带 uuid/email
func (j *JWTer) IssueReset(uuid, email string) (string, error) {
	ttl := j.ResetTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return j.issue(Identity{UUID: uuid, Email: email}, PurposeReset, ttl)
}

func (j *JWTer) Parse(tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected alg")
		}
		return j.Secret, nil
	}, jwt.WithIssuer(j.Issuer), jwt.WithLeeway(60*time.Second))

	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// ParseAccess 只接受会话 token
func (j *JWTer) ParseAccess(tokenStr string) (*Claims, error) {
	c, err := j.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if c.Purpose != PurposeAccess {
		return nil, ErrWrongPurpose
	}
	return c, nil
}

func (j *JWTer) ParseReset(tokenStr string) (*Claims, error) {
	c, err := j.Parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if c.Purpose != PurposeReset {
		return nil, ErrWrongPurpose
	}
	return c, nil
}
