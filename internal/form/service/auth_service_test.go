package service

import (
	"context"
	"testing"
	"time"

	"github.com/zouyuanqing/formpay/internal/config"
	formrepo "github.com/zouyuanqing/formpay/internal/form/repository"
	"github.com/zouyuanqing/formpay/internal/form/testutil"
	"gorm.io/gorm"
)

func setupAuthTest(t *testing.T) (*gorm.DB, *AuthService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	cfg := &config.Config{}
	cfg.JWT.Secret = testutil.JWTSecret
	cfg.JWT.Issuer = "formpay-test"
	cfg.JWT.AccessTokenExpire = 24 * time.Hour
	return db, NewAuthService(formrepo.NewRepositories(db).User, cfg)
}

func TestEnsureAdminSeedsOnce(t *testing.T) {
	db, svc := setupAuthTest(t)
	ctx := context.Background()

	first, err := svc.EnsureAdmin(ctx, "admin@formpay.local", "secret123", "管理员")
	if err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	if first == nil {
		t.Fatal("expected admin to be created")
	}

	// 重复执行不建第二个号，返回现有账户
	second, err := svc.EnsureAdmin(ctx, "admin@formpay.local", "another-password", "别名")
	if err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeated seeding must return the existing admin")
	}
	var count int64
	db.Table("admins").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly 1 admin, got %d", count)
	}

	// 种出来的账户能用原始口令登录，并带管理员身份
	result, err := svc.AdminLogin(ctx, "admin@formpay.local", "secret123")
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	if !result.IsAdmin {
		t.Errorf("seeded admin token must carry the admin claim")
	}
	if _, err := svc.AdminLogin(ctx, "admin@formpay.local", "another-password"); err != ErrInvalidCredentials {
		t.Errorf("repeated seeding must not rotate the password, got %v", err)
	}
}

func TestEnsureAdminSkipsWhenUnconfigured(t *testing.T) {
	db, svc := setupAuthTest(t)
	ctx := context.Background()

	for _, pair := range [][2]string{{"", "pw"}, {"admin@formpay.local", ""}} {
		admin, err := svc.EnsureAdmin(ctx, pair[0], pair[1], "管理员")
		if err != nil {
			t.Fatalf("ensure admin failed: %v", err)
		}
		if admin != nil {
			t.Errorf("missing credentials must skip seeding")
		}
	}
	var count int64
	db.Table("admins").Count(&count)
	if count != 0 {
		t.Errorf("expected no admins, got %d", count)
	}
}
