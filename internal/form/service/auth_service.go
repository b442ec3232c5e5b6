package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zouyuanqing/formpay/internal/config"
	"github.com/zouyuanqing/formpay/internal/form/entity"
	"github.com/zouyuanqing/formpay/internal/form/repository"
	"github.com/zouyuanqing/formpay/internal/middleware"
	"golang.org/x/crypto/bcrypt"
)

// 错误定义
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUserDisabled       = errors.New("user is disabled")
)

// AuthService 认证服务
type AuthService struct {
	userRepo *repository.UserRepository
	cfg      *config.Config
}

// NewAuthService 创建认证服务
func NewAuthService(userRepo *repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{userRepo: userRepo, cfg: cfg}
}

// RegisterRequest 注册请求，邮箱和手机号至少填一个
type RegisterRequest struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
}

// LoginRequest 登录请求，identifier为邮箱或手机号
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// TokenResult 登录结果
type TokenResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	IsAdmin     bool   `json:"is_admin"`
}

// Register 注册填表用户
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*entity.User, error) {
	if req.Email == "" && req.Phone == "" {
		return nil, fmt.Errorf("邮箱和手机号至少填写一个")
	}

	for _, identifier := range []string{req.Email, req.Phone} {
		if identifier == "" {
			continue
		}
		existing, err := s.userRepo.FindByEmailOrPhone(ctx, identifier)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrUserExists
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	user := &entity.User{
		ID:           uuid.New().String()[:32],
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Name:         req.Name,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}
	return user, nil
}

// EnsureAdmin 幂等初始化管理员账户。
// 邮箱已存在时返回现有账户不做任何变更；邮箱或密码未配置时跳过。
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password, name string) (*entity.Admin, error) {
	if email == "" || password == "" {
		return nil, nil
	}

	existing, err := s.userRepo.FindAdminByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	admin := &entity.Admin{
		ID:           uuid.New().String()[:32],
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	if err := s.userRepo.CreateAdmin(ctx, admin); err != nil {
		return nil, fmt.Errorf("创建管理员失败: %w", err)
	}
	return admin, nil
}

// Login 用户登录
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*TokenResult, error) {
	user, err := s.userRepo.FindByEmailOrPhone(ctx, req.Identifier)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueToken(user.ID, user.Name, false)
}

// AdminLogin 管理员登录
func (s *AuthService) AdminLogin(ctx context.Context, email, password string) (*TokenResult, error) {
	admin, err := s.userRepo.FindAdminByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return nil, ErrUserDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueToken(admin.ID, admin.Name, true)
}

func (s *AuthService) issueToken(userID, name string, isAdmin bool) (*TokenResult, error) {
	expire := s.cfg.JWT.AccessTokenExpire
	now := time.Now()

	claims := middleware.JWTClaims{
		UserID:  userID,
		Name:    name,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.JWT.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expire)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWT.Secret))
	if err != nil {
		return nil, fmt.Errorf("签发token失败: %w", err)
	}

	return &TokenResult{
		AccessToken: signed,
		ExpiresIn:   int64(expire.Seconds()),
		UserID:      userID,
		Name:        name,
		IsAdmin:     isAdmin,
	}, nil
}
