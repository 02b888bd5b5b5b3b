package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Verification failures, checked in this order: structure, expiry, kind,
// revocation. A structurally broken or naturally expired token is rejected
// for that reason alone, before the blacklist is consulted.
var (
	ErrMalformed = errors.New("malformed token")
	ErrExpired   = errors.New("token expired")
	ErrWrongKind = errors.New("wrong token kind")
	ErrRevoked   = errors.New("token revoked")
)

// fallbackRole is used when a rotation caller cannot supply the current
// role. Callers are expected to re-fetch the account and pass the real one.
const fallbackRole = "student"

type Claims struct {
	Role string `json:"role,omitempty"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Manager issues, verifies and rotates the signed access/refresh token pair
// and feeds the revocation blacklist.
type Manager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	blacklist  Blacklist
	now        func() time.Time
}

func NewManager(secret, issuer string, accessTTL, refreshTTL time.Duration, blacklist Blacklist) *Manager {
	return &Manager{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		blacklist:  blacklist,
		now:        time.Now,
	}
}

// IssueAccessToken embeds the role so request authorization needs no storage
// round trip. Role changes take effect at the next issuance, not instantly.
func (m *Manager) IssueAccessToken(userID, role string) (string, error) {
	return m.sign(userID, role, KindAccess, m.accessTTL)
}

// IssueRefreshToken deliberately omits the role: a refresh token must never
// be trusted for authorization, only for obtaining a new pair.
func (m *Manager) IssueRefreshToken(userID string) (string, error) {
	return m.sign(userID, "", KindRefresh, m.refreshTTL)
}

func (m *Manager) sign(userID, role, kind string, ttl time.Duration) (string, error) {
	now := m.now().UTC()
	claims := Claims{
		Role: role,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) VerifyAccess(ctx context.Context, tokenString string) (userID, role string, err error) {
	claims, err := m.verify(ctx, tokenString, KindAccess)
	if err != nil {
		return "", "", err
	}
	return claims.Subject, claims.Role, nil
}

func (m *Manager) VerifyRefresh(ctx context.Context, tokenString string) (userID string, err error) {
	claims, err := m.verify(ctx, tokenString, KindRefresh)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (m *Manager) verify(ctx context.Context, tokenString, kind string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	revoked, err := m.blacklist.Contains(ctx, HashToken(tokenString))
	if err != nil {
		return nil, fmt.Errorf("blacklist lookup: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Rotate consumes a refresh token: the old token is revoked the moment it is
// exchanged, so each refresh token is usable exactly once. The new access
// token carries currentRole when supplied; callers should pass the role
// freshly read from storage rather than rely on the fallback.
func (m *Manager) Rotate(ctx context.Context, refreshToken, currentRole string) (newAccess, newRefresh string, err error) {
	userID, err := m.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return "", "", err
	}
	if err := m.Revoke(ctx, refreshToken); err != nil {
		return "", "", err
	}
	if currentRole == "" {
		currentRole = fallbackRole
	}
	newAccess, err = m.IssueAccessToken(userID, currentRole)
	if err != nil {
		return "", "", err
	}
	newRefresh, err = m.IssueRefreshToken(userID)
	if err != nil {
		return "", "", err
	}
	return newAccess, newRefresh, nil
}

// Revoke blacklists a token until its own expiry. An already-expired token
// is a no-op: it cannot be used anyway and tracking it would only leak
// memory. A token whose expiry cannot be determined is rejected, since an
// unbounded blacklist entry must never be created.
func (m *Manager) Revoke(ctx context.Context, tokenString string) error {
	claims, err := m.parse(tokenString)
	if errors.Is(err, ErrExpired) {
		return nil
	}
	if err != nil {
		return err
	}
	if claims.ExpiresAt == nil {
		return ErrMalformed
	}
	return m.blacklist.Add(ctx, HashToken(tokenString), claims.ExpiresAt.Time)
}

// Logout revokes the supplied tokens on a best-effort basis. A missing,
// malformed or already-expired token counts as already logged out.
func (m *Manager) Logout(ctx context.Context, accessToken, refreshToken string) {
	if accessToken != "" {
		_ = m.Revoke(ctx, accessToken)
	}
	if refreshToken != "" {
		_ = m.Revoke(ctx, refreshToken)
	}
}
