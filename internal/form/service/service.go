package service

import (
	"github.com/zouyuanqing/formpay/internal/config"
	"github.com/zouyuanqing/formpay/internal/form/repository"
	paymentrepo "github.com/zouyuanqing/formpay/internal/payment/repository"
	paymentsvc "github.com/zouyuanqing/formpay/internal/payment/service"
	"github.com/zouyuanqing/formpay/internal/shared/redislock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Auth       *AuthService
	Form       *FormService
	Submission *SubmissionService
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, repos *repository.Repositories, paymentRepos *paymentrepo.Repositories, orderSvc *paymentsvc.OrderService, store FileStore, locker *redislock.Locker, cfg *config.Config, logger *zap.Logger) *Services {
	builder := NewFormBuilder(cfg.Upload.AllowedExtensions)

	return &Services{
		Auth:       NewAuthService(repos.User, cfg),
		Form:       NewFormService(repos.Form, repos.Submission, paymentRepos.Account),
		Submission: NewSubmissionService(db, repos, builder, store, orderSvc, locker, logger),
	}
}
