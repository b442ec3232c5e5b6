package entity

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// JSONB jsonb字段类型
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, j)
}

// 支付方式
const (
	PaymentTypeWechat = "wechat_pay"
	PaymentTypeAlipay = "alipay"
)

// 订单状态机：pending → processing → paid；failed/cancelled 仅由管理员操作进入
const (
	OrderStatusPending    = "pending"    // 已创建，未发起网关支付
	OrderStatusProcessing = "processing" // 网关支付单已创建
	OrderStatusPaid       = "paid"       // 终态：支付成功
	OrderStatusFailed     = "failed"     // 终态：支付失败
	OrderStatusCancelled  = "cancelled"  // 终态：已取消
)

// TerminalStatus 是否为终态
func TerminalStatus(status string) bool {
	switch status {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentOrder 支付订单
// 支付状态以本表为准，SubmissionData 中的金额仅为展示镜像。
// PaymentData 按事件命名空间累积网关数据（initiate/callback/query/override），只合并不覆盖。
type PaymentOrder struct {
	ID           string          `json:"id" gorm:"primaryKey;size:32"`
	SubmissionID string          `json:"submission_id" gorm:"size:32;not null;index"`
	FieldName    string          `json:"field_name" gorm:"size:100;not null"`
	PaymentType  string          `json:"payment_type" gorm:"size:20;not null"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	OrderNo      string          `json:"order_no" gorm:"size:64;not null;uniqueIndex"`
	// 第三方交易号，网关确认后写入
	TradeNo          string     `json:"trade_no" gorm:"size:64"`
	Status           string     `json:"status" gorm:"size:20;not null;default:pending;index"`
	PaymentAccountID string     `json:"payment_account_id" gorm:"size:32"`
	CreatedAt        time.Time  `json:"created_at"`
	PaidAt           *time.Time `json:"paid_at"`
	PaymentData      JSONB      `json:"payment_data" gorm:"type:jsonb"`

	PaymentAccount *PaymentAccount `json:"payment_account,omitempty" gorm:"foreignKey:PaymentAccountID"`
}

func (PaymentOrder) TableName() string {
	return "payment_orders"
}
