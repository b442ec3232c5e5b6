package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zouyuanqing/formpay/internal/payment/entity"
	"github.com/zouyuanqing/formpay/internal/payment/repository"
)

// 错误定义
var (
	ErrAccountNotFound = errors.New("payment account not found")
	// ErrAccountInUse 账户被表单字段引用时不允许删除
	ErrAccountInUse = errors.New("payment account in use")
)

// AccountService 收款账户服务
type AccountService struct {
	repo *repository.AccountRepository
}

// NewAccountService 创建收款账户服务
func NewAccountService(repo *repository.AccountRepository) *AccountService {
	return &AccountService{repo: repo}
}

// CreateAccountRequest 创建账户请求
type CreateAccountRequest struct {
	AccountName   string `json:"account_name" binding:"required"`
	AccountType   string `json:"account_type" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	AccountHolder string `json:"account_holder" binding:"required"`
	BankName      string `json:"bank_name"`
	BankBranch    string `json:"bank_branch"`
	Notes         string `json:"notes"`
}

// UpdateAccountRequest 更新账户请求
type UpdateAccountRequest struct {
	AccountName   *string `json:"account_name"`
	AccountNumber *string `json:"account_number"`
	AccountHolder *string `json:"account_holder"`
	BankName      *string `json:"bank_name"`
	BankBranch    *string `json:"bank_branch"`
	IsActive      *bool   `json:"is_active"`
	Notes         *string `json:"notes"`
}

// Create 创建收款账户
func (s *AccountService) Create(ctx context.Context, adminID string, req *CreateAccountRequest) (*entity.PaymentAccount, error) {
	switch req.AccountType {
	case entity.AccountTypeWechat, entity.AccountTypeAlipay, entity.AccountTypeBankCard:
	default:
		return nil, fmt.Errorf("不支持的账户类型: %s", req.AccountType)
	}
	if req.AccountType == entity.AccountTypeBankCard && req.BankName == "" {
		return nil, fmt.Errorf("银行卡账户必须填写开户银行")
	}

	account := &entity.PaymentAccount{
		ID:            uuid.New().String()[:32],
		AccountName:   req.AccountName,
		AccountType:   req.AccountType,
		AccountNumber: req.AccountNumber,
		AccountHolder: req.AccountHolder,
		BankName:      req.BankName,
		BankBranch:    req.BankBranch,
		IsActive:      true,
		Notes:         req.Notes,
		CreatedBy:     adminID,
		CreatedAt:     time.Now(),
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("创建收款账户失败: %w", err)
	}
	return account, nil
}

// Update 更新收款账户
func (s *AccountService) Update(ctx context.Context, id string, req *UpdateAccountRequest) (*entity.PaymentAccount, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	if req.AccountName != nil {
		account.AccountName = *req.AccountName
	}
	if req.AccountNumber != nil {
		account.AccountNumber = *req.AccountNumber
	}
	if req.AccountHolder != nil {
		account.AccountHolder = *req.AccountHolder
	}
	if req.BankName != nil {
		account.BankName = *req.BankName
	}
	if req.BankBranch != nil {
		account.BankBranch = *req.BankBranch
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if req.Notes != nil {
		account.Notes = *req.Notes
	}

	if err := s.repo.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("更新收款账户失败: %w", err)
	}
	return account, nil
}

// Delete 删除收款账户，被表单字段引用时拒绝
func (s *AccountService) Delete(ctx context.Context, id string) error {
	inUse, err := s.repo.InUse(ctx, id)
	if err != nil {
		return err
	}
	if inUse {
		return ErrAccountInUse
	}
	err = s.repo.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

// Get 账户详情
func (s *AccountService) Get(ctx context.Context, id string) (*entity.PaymentAccount, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// List 账户列表
func (s *AccountService) List(ctx context.Context, activeOnly bool) ([]entity.PaymentAccount, error) {
	return s.repo.List(ctx, activeOnly)
}
