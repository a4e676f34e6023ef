package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/navgate/internal/model"
)

const sessionIssuer = "navgate"

// sessionClaims はセッショントークンに格納するクレーム。
type sessionClaims struct {
	Email           string `json:"email"`
	EnterpriseEmail string `json:"enterprise_email,omitempty"`
	jwt.RegisteredClaims
}

// SessionTokens はHMAC-SHA256で署名したセッショントークンを発行・検証する。
// トークン自体に識別情報を持つため、サーバー側に状態を持たない。
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens はSessionTokensを生成する。
func NewSessionTokens(secret string, ttl time.Duration) *SessionTokens {
	return &SessionTokens{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue は識別情報を含む署名付きトークンを発行する。
func (t *SessionTokens) Issue(identity model.Identity) (string, error) {
	if identity.Email == "" {
		return "", errors.New("identity email is required")
	}

	now := t.now()
	claims := sessionClaims{
		Email:           identity.Email,
		EnterpriseEmail: identity.EnterpriseEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   identity.ResolvedEmail(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse はトークンの署名と有効期限を検証し、識別情報を返す。
func (t *SessionTokens) Parse(raw string) (*model.Identity, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, t.verificationKey,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Email == "" {
		return nil, errors.New("invalid session token: email claim is empty")
	}

	return &model.Identity{
		Email:           claims.Email,
		EnterpriseEmail: claims.EnterpriseEmail,
	}, nil
}

func (t *SessionTokens) verificationKey(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return t.secret, nil
}
