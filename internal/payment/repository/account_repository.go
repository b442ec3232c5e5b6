package repository

import (
	"context"
	"errors"

	"github.com/zouyuanqing/formpay/internal/payment/entity"
	"gorm.io/gorm"
)

// AccountRepository 收款账户仓库
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository 创建收款账户仓库
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByID 根据ID查找账户
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*entity.PaymentAccount, error) {
	var account entity.PaymentAccount
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// List 账户列表，activeOnly 为真时仅返回启用账户
func (r *AccountRepository) List(ctx context.Context, activeOnly bool) ([]entity.PaymentAccount, error) {
	query := r.db.WithContext(ctx).Model(&entity.PaymentAccount{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var accounts []entity.PaymentAccount
	err := query.Order("created_at DESC").Find(&accounts).Error
	return accounts, err
}

// Create 创建账户
func (r *AccountRepository) Create(ctx context.Context, account *entity.PaymentAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// Update 更新账户
func (r *AccountRepository) Update(ctx context.Context, account *entity.PaymentAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

// Delete 删除账户
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.PaymentAccount{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InUse 账户是否被表单字段引用，被引用的账户不允许删除
func (r *AccountRepository) InUse(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("form_fields").
		Where("payment_account_id = ?", id).
		Count(&count).Error
	return count > 0, err
}
