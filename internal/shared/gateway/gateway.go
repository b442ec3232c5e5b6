package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Gateway — 支付网关抽象
// 订单管理按支付方式选择网关实现；未配置凭据时使用 Disabled 实现，
// 调用方会收到明确的"未配置"错误而不是空指针。
// =============================================================================

// ErrNotConfigured 网关凭据未配置
var ErrNotConfigured = errors.New("payment gateway not configured")

// IntentResult 创建支付单结果
type IntentResult struct {
	Success bool
	// 第三方交易号，部分渠道在创建时即返回
	TradeNo string
	// 跳转支付链接（支付宝）
	PaymentURL string
	// 二维码内容（微信Native）
	QRPayload string
	Message   string
	Raw       map[string]interface{}
}

// StatusResult 支付状态查询结果
type StatusResult struct {
	Success        bool
	ProviderStatus string
	TradeNo        string
	Message        string
	Raw            map[string]interface{}
}

// Notification 验签通过的异步通知
type Notification struct {
	OrderNo        string
	ProviderStatus string
	TradeNo        string
	Raw            map[string]interface{}
}

// Gateway 支付网关能力接口
type Gateway interface {
	// CreateIntent 创建第三方支付单
	CreateIntent(ctx context.Context, orderNo string, amount decimal.Decimal, description string) (*IntentResult, error)
	// QueryStatus 主动查询第三方支付状态
	QueryStatus(ctx context.Context, orderNo string) (*StatusResult, error)
	// VerifyNotification 验证异步通知并提取订单号/状态/交易号；
	// 验签失败返回错误，调用方不得据未验签内容变更任何状态
	VerifyNotification(body []byte) (*Notification, error)
	// StatusPaid 第三方状态码是否表示支付成功
	StatusPaid(providerStatus string) bool
	// 应答哨兵：必须原样返回给第三方，否则对方会持续重试通知
	AckSuccess() string
	AckFailure() string
	AckContentType() string
}

// Disabled 未配置凭据时的空网关
type Disabled struct{}

func (Disabled) CreateIntent(ctx context.Context, orderNo string, amount decimal.Decimal, description string) (*IntentResult, error) {
	return nil, ErrNotConfigured
}

func (Disabled) QueryStatus(ctx context.Context, orderNo string) (*StatusResult, error) {
	return nil, ErrNotConfigured
}

func (Disabled) VerifyNotification(body []byte) (*Notification, error) {
	return nil, ErrNotConfigured
}

func (Disabled) StatusPaid(providerStatus string) bool { return false }

func (Disabled) AckSuccess() string { return "fail" }

func (Disabled) AckFailure() string { return "fail" }

func (Disabled) AckContentType() string { return "text/plain" }
