package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roomsync/chat-client/internal/core/domain"
)

const issuer = "chat-client"

// Token kinds carried in the token_type claim.
const (
	kindAccess  = "access"
	kindRefresh = "refresh"
	kindConfirm = "confirm"
)

const confirmTokenTTL = 24 * time.Hour

// TokenConfig holds signing and lifetime settings.
type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type tokenClaims struct {
	Email     string `json:"email"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 tokens.
type TokenManager struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenManager(cfg TokenConfig) *TokenManager {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &TokenManager{cfg: cfg, now: time.Now}
}

// IssueSession returns a fresh access and refresh pair for id.
func (m *TokenManager) IssueSession(id domain.Identity) (*domain.Session, error) {
	now := m.now()
	access, err := m.sign(id, kindAccess, now, m.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(id, kindRefresh, now, m.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		Identity:     id,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(m.cfg.AccessTTL).Truncate(time.Second),
	}, nil
}

// IssueConfirmation returns a token that confirms id's email address.
func (m *TokenManager) IssueConfirmation(id domain.Identity) (string, error) {
	return m.sign(id, kindConfirm, m.now(), confirmTokenTTL)
}

func (m *TokenManager) ValidateAccess(token string) (domain.Identity, error) {
	return m.validate(token, kindAccess)
}

func (m *TokenManager) ValidateRefresh(token string) (domain.Identity, error) {
	return m.validate(token, kindRefresh)
}

func (m *TokenManager) ValidateConfirmation(token string) (domain.Identity, error) {
	return m.validate(token, kindConfirm)
}

// RefreshTTL is how long a saved session stays restorable.
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.cfg.RefreshTTL
}

func (m *TokenManager) sign(id domain.Identity, kind string, now time.Time, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		Email:     id.Email,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (m *TokenManager) validate(token, kind string) (domain.Identity, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(m.cfg.Secret), nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Identity{}, fmt.Errorf("%w: %s token expired", domain.ErrInvalidToken, kind)
		}
		return domain.Identity{}, domain.ErrInvalidToken
	}
	if claims.TokenType != kind || claims.Subject == "" {
		return domain.Identity{}, domain.ErrInvalidToken
	}
	return domain.Identity{ID: claims.Subject, Email: claims.Email}, nil
}
