package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateOrderNo 订单号撞上唯一约束，调用方换号重试
	ErrDuplicateOrderNo = errors.New("duplicate order number")
)

// Repositories 仓库集合
type Repositories struct {
	Order   *OrderRepository
	Account *AccountRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:   NewOrderRepository(db),
		Account: NewAccountRepository(db),
	}
}
