package entity

import (
	"fmt"
	"strings"
	"time"
)

// 收款账户类型
const (
	AccountTypeWechat   = "wechat"
	AccountTypeAlipay   = "alipay"
	AccountTypeBankCard = "bank_card"
)

// PaymentAccount 收款账户，生命周期独立于表单和订单
type PaymentAccount struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	AccountName   string    `json:"account_name" gorm:"size:100;not null"`
	AccountType   string    `json:"account_type" gorm:"size:20;not null"`
	AccountNumber string    `json:"account_number" gorm:"size:50;not null"`
	AccountHolder string    `json:"account_holder" gorm:"size:100;not null"`
	// 银行信息，仅银行卡账户使用
	BankName   string    `json:"bank_name" gorm:"size:100"`
	BankBranch string    `json:"bank_branch" gorm:"size:200"`
	IsActive   bool      `json:"is_active" gorm:"default:true"`
	Notes      string    `json:"notes" gorm:"type:text"`
	CreatedBy  string    `json:"created_by" gorm:"size:32;not null"`
	CreatedAt  time.Time `json:"created_at"`
}

func (PaymentAccount) TableName() string {
	return "payment_accounts"
}

// Display 脱敏后的账户展示信息
func (a *PaymentAccount) Display() string {
	if a.AccountType == AccountTypeBankCard {
		masked := a.AccountNumber
		if len(masked) > 8 {
			masked = masked[:4] + strings.Repeat("*", len(masked)-8) + masked[len(masked)-4:]
		}
		return fmt.Sprintf("%s %s", a.BankName, masked)
	}
	masked := strings.Repeat("*", len(a.AccountNumber))
	if len(a.AccountNumber) > 6 {
		masked = a.AccountNumber[:3] + strings.Repeat("*", len(a.AccountNumber)-6) + a.AccountNumber[len(a.AccountNumber)-3:]
	}
	return fmt.Sprintf("%s (%s)", a.AccountHolder, masked)
}
