package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager() *Manager {
	return NewManager("test-secret", "test-issuer", 15*time.Minute, 7*24*time.Hour, NewMemoryBlacklist())
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestManager()
	token, err := m.IssueAccessToken("42", "teacher")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	userID, role, err := m.VerifyAccess(context.Background(), token)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if userID != "42" || role != "teacher" {
		t.Fatalf("unexpected claims: %s %s", userID, role)
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	m := newTestManager()
	issued := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	token, err := m.IssueAccessToken("42", "teacher")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	m.now = func() time.Time { return issued.Add(16 * time.Minute) }
	if _, _, err := m.VerifyAccess(context.Background(), token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRefreshTokenOmitsRole(t *testing.T) {
	m := newTestManager()
	token, err := m.IssueRefreshToken("42")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	claims, err := m.parse(token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.Role != "" {
		t.Fatalf("refresh token must not carry a role, got %q", claims.Role)
	}
}

func TestKindIsCheckedExplicitly(t *testing.T) {
	m := newTestManager()
	access, _ := m.IssueAccessToken("42", "student")
	refresh, _ := m.IssueRefreshToken("42")

	if _, err := m.VerifyRefresh(context.Background(), access); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind for access-as-refresh, got %v", err)
	}
	if _, _, err := m.VerifyAccess(context.Background(), refresh); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind for refresh-as-access, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	m := newTestManager()
	if _, _, err := m.VerifyAccess(context.Background(), "not-a-token"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	other := NewManager("other-secret", "test-issuer", time.Minute, time.Hour, NewMemoryBlacklist())
	forged, _ := other.IssueAccessToken("42", "admin")
	if _, _, err := m.VerifyAccess(context.Background(), forged); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for wrong signature, got %v", err)
	}
}

func TestRotateRevokesOldRefreshToken(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	oldRefresh, err := m.IssueRefreshToken("42")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	newAccess, newRefresh, err := m.Rotate(ctx, oldRefresh, "teacher")
	if err != nil {
		t.Fatalf("rotate error: %v", err)
	}
	if newRefresh == oldRefresh {
		t.Fatalf("rotation must produce a different refresh token")
	}

	if _, err := m.VerifyRefresh(ctx, oldRefresh); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected old refresh token revoked, got %v", err)
	}
	userID, role, err := m.VerifyAccess(ctx, newAccess)
	if err != nil {
		t.Fatalf("verify new access error: %v", err)
	}
	if userID != "42" || role != "teacher" {
		t.Fatalf("unexpected rotated claims: %s %s", userID, role)
	}
	if _, err := m.VerifyRefresh(ctx, newRefresh); err != nil {
		t.Fatalf("new refresh token should verify, got %v", err)
	}
}

func TestRotateFallbackRole(t *testing.T) {
	m := newTestManager()
	refresh, _ := m.IssueRefreshToken("42")

	newAccess, _, err := m.Rotate(context.Background(), refresh, "")
	if err != nil {
		t.Fatalf("rotate error: %v", err)
	}
	_, role, err := m.VerifyAccess(context.Background(), newAccess)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if role != "student" {
		t.Fatalf("expected fallback role student, got %s", role)
	}
}

func TestRotateRejectsRevokedToken(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	refresh, _ := m.IssueRefreshToken("42")

	if _, _, err := m.Rotate(ctx, refresh, "student"); err != nil {
		t.Fatalf("first rotation should succeed: %v", err)
	}
	if _, _, err := m.Rotate(ctx, refresh, "student"); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected replayed rotation to fail with ErrRevoked, got %v", err)
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	m := newTestManager()
	issued := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }
	token, _ := m.IssueAccessToken("42", "student")

	m.now = func() time.Time { return issued.Add(time.Hour) }
	if err := m.Revoke(context.Background(), token); err != nil {
		t.Fatalf("revoking an expired token should be a no-op, got %v", err)
	}
}

func TestRevokeMalformedToken(t *testing.T) {
	m := newTestManager()
	if err := m.Revoke(context.Background(), "garbage"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	access, _ := m.IssueAccessToken("42", "teacher")
	refresh, _ := m.IssueRefreshToken("42")

	m.Logout(ctx, access, refresh)

	if _, _, err := m.VerifyAccess(ctx, access); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected access token revoked, got %v", err)
	}
	if _, err := m.VerifyRefresh(ctx, refresh); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected refresh token revoked, got %v", err)
	}
}

func TestLogoutToleratesBadTokens(t *testing.T) {
	m := newTestManager()
	m.Logout(context.Background(), "garbage", "")
	m.Logout(context.Background(), "", "")
}
