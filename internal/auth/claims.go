package auth

import (
	"errors"
	"strconv"
	"time"

	"rentloop-be/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSubject = errors.New("token carries no usable subject")

// Claims is the caller identity carried by an access token.
type Claims struct {
	UserID string
	Email  string
	Role   string
}

// IssueToken signs c as an HS256 token valid for ttl.
func IssueToken(secret []byte, c Claims, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   c.UserID,
		"email": c.Email,
		"role":  c.Role,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies an HS256 token and returns its caller. A missing role reads as
// customer.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	mc := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, mc, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	id, err := subject(mc)
	if err != nil {
		return nil, err
	}
	email, _ := mc["email"].(string)
	role, _ := mc["role"].(string)
	if role == "" {
		role = utils.RoleCustomer
	}
	return &Claims{UserID: id, Email: email, Role: role}, nil
}

// subject prefers the standard sub claim and falls back to a numeric or string
// user_id.
func subject(claims jwt.MapClaims) (string, error) {
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	}
	return "", ErrNoSubject
}
