package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/zouyuanqing/formpay/internal/payment/entity"
	"github.com/zouyuanqing/formpay/internal/payment/repository"
	"github.com/zouyuanqing/formpay/internal/shared/gateway"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 错误定义
var (
	ErrOrderNotFound = errors.New("payment order not found")
	// ErrOrderStateInvalid 当前状态不允许该操作（如重复发起支付）
	ErrOrderStateInvalid = errors.New("order state invalid")
	ErrInvalidAmount     = errors.New("payment amount must be positive")
	ErrInvalidStatus     = errors.New("invalid target status")
)

// 订单号生成重试上限。时间戳+随机数理论上会撞库，靠唯一索引兜底重试。
const maxOrderNoAttempts = 5

// 发起支付的互斥锁存活时间，覆盖一次网关请求的耗时
const initiateLockTTL = 30 * time.Second

// Locker 互斥锁，发起支付时按订单加锁
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (acquired bool, release func(), err error)
}

// OrderService 支付订单服务，状态机的唯一入口。
// 所有进入终态的变更都走仓库层的条件更新，并发竞争的败者拿到 rowsAffected=0。
type OrderService struct {
	orderRepo   *repository.OrderRepository
	accountRepo *repository.AccountRepository
	gateways    map[string]gateway.Gateway
	locker      Locker
	newOrderNo  func() string
	logger      *zap.Logger
}

// NewOrderService 创建支付订单服务
func NewOrderService(repos *repository.Repositories, gateways map[string]gateway.Gateway, locker Locker, logger *zap.Logger) *OrderService {
	return &OrderService{
		orderRepo:   repos.Order,
		accountRepo: repos.Account,
		gateways:    gateways,
		locker:      locker,
		newOrderNo:  GenerateOrderNo,
		logger:      logger,
	}
}

// GenerateOrderNo 订单号：PAY + 毫秒时间戳 + 4位随机数
func GenerateOrderNo() string {
	return fmt.Sprintf("PAY%d%04d", time.Now().UnixMilli(), rand.Intn(10000))
}

// CreateOrderTx 在提交事务内创建订单（∅→pending）。
// 订单号撞唯一索引时换号重试，不让偶发碰撞拖垮整次提交。
func (s *OrderService) CreateOrderTx(ctx context.Context, tx *gorm.DB, submissionID, fieldName, paymentType string, amount decimal.Decimal, accountID string) (*entity.PaymentOrder, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	for attempt := 0; attempt < maxOrderNoAttempts; attempt++ {
		order := &entity.PaymentOrder{
			ID:               uuid.New().String()[:32],
			SubmissionID:     submissionID,
			FieldName:        fieldName,
			PaymentType:      paymentType,
			Amount:           amount,
			OrderNo:          s.newOrderNo(),
			Status:           entity.OrderStatusPending,
			PaymentAccountID: accountID,
			CreatedAt:        time.Now(),
		}
		// 每次尝试包在savepoint里，撞号回滚后外层事务仍然可用
		err := tx.Transaction(func(inner *gorm.DB) error {
			return s.orderRepo.CreateTx(ctx, inner, order)
		})
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrDuplicateOrderNo) {
			return nil, err
		}
		s.logger.Warn("订单号冲突，重新生成",
			zap.String("order_no", order.OrderNo),
			zap.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("生成唯一订单号失败")
}

// InitiateResult 发起支付结果
type InitiateResult struct {
	Order      *entity.PaymentOrder `json:"order"`
	PaymentURL string               `json:"payment_url,omitempty"`
	QRPayload  string               `json:"qr_payload,omitempty"`
}

// Initiate 发起支付（pending→processing）。
// 按订单加锁后再检查状态，并发的重复点击在锁上或状态守卫上被拦下，
// 不会创建第二个网关支付单。网关失败不改变状态，订单留在pending可重试。
func (s *OrderService) Initiate(ctx context.Context, orderID string) (*InitiateResult, error) {
	if s.locker != nil {
		acquired, release, err := s.locker.Acquire(ctx, "formpay:initiate:"+orderID, initiateLockTTL)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrOrderStateInvalid
		}
		defer release()
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != entity.OrderStatusPending {
		return nil, ErrOrderStateInvalid
	}

	gw, ok := s.gateways[order.PaymentType]
	if !ok {
		return nil, gateway.ErrNotConfigured
	}

	intent, err := gw.CreateIntent(ctx, order.OrderNo, order.Amount, "表单支付 "+order.OrderNo)
	if err != nil {
		return nil, err
	}
	if !intent.Success {
		return nil, fmt.Errorf("支付网关拒绝: %s", intent.Message)
	}

	changed, err := s.orderRepo.MarkProcessing(ctx, order.ID, intent.TradeNo, intent.Raw)
	if err != nil {
		return nil, err
	}
	if !changed {
		// 条件更新落空说明并发请求抢先变更了状态
		return nil, ErrOrderStateInvalid
	}

	order, err = s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &InitiateResult{
		Order:      order,
		PaymentURL: intent.PaymentURL,
		QRPayload:  intent.QRPayload,
	}, nil
}

// HandleNotification 处理异步回调（pending|processing→paid）。
// 返回应答给第三方的原文和Content-Type。验签失败或订单不存在都应答失败；
// 已支付订单的重复回调按无害重复处理，直接应答成功。
func (s *OrderService) HandleNotification(ctx context.Context, paymentType string, body []byte) (ack, contentType string) {
	gw, ok := s.gateways[paymentType]
	if !ok {
		return "fail", "text/plain"
	}

	notif, err := gw.VerifyNotification(body)
	if err != nil {
		s.logger.Warn("支付回调验签失败",
			zap.String("payment_type", paymentType),
			zap.Error(err))
		return gw.AckFailure(), gw.AckContentType()
	}

	order, err := s.orderRepo.FindByOrderNo(ctx, notif.OrderNo)
	if err != nil || order == nil {
		s.logger.Warn("支付回调订单不存在",
			zap.String("order_no", notif.OrderNo),
			zap.Error(err))
		return gw.AckFailure(), gw.AckContentType()
	}

	if order.Status == entity.OrderStatusPaid {
		return gw.AckSuccess(), gw.AckContentType()
	}

	if !gw.StatusPaid(notif.ProviderStatus) {
		// 非成功状态的通知不触发任何状态变更
		return gw.AckSuccess(), gw.AckContentType()
	}

	changed, err := s.orderRepo.MarkPaid(ctx, notif.OrderNo, notif.TradeNo, "callback", notif.Raw)
	if err != nil {
		s.logger.Error("支付回调更新订单失败",
			zap.String("order_no", notif.OrderNo),
			zap.Error(err))
		return gw.AckFailure(), gw.AckContentType()
	}
	if changed {
		s.logger.Info("订单支付成功",
			zap.String("order_no", notif.OrderNo),
			zap.String("trade_no", notif.TradeNo))
	}
	// 条件更新落空说明另一路径（轮询或并发回调）已完成变更，照常应答成功
	return gw.AckSuccess(), gw.AckContentType()
}

// Poll 主动查询支付状态（pending|processing→paid）。
// 幂等：终态订单直接返回本地状态，不再请求网关。
func (s *OrderService) Poll(ctx context.Context, orderID string) (*entity.PaymentOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if entity.TerminalStatus(order.Status) {
		return order, nil
	}

	gw, ok := s.gateways[order.PaymentType]
	if !ok {
		return order, nil
	}

	status, err := gw.QueryStatus(ctx, order.OrderNo)
	if err != nil {
		// 网关查不到不算失败，返回本地状态
		s.logger.Warn("查询网关支付状态失败",
			zap.String("order_no", order.OrderNo),
			zap.Error(err))
		return order, nil
	}

	if status.Success && gw.StatusPaid(status.ProviderStatus) {
		if _, err := s.orderRepo.MarkPaid(ctx, order.OrderNo, status.TradeNo, "query", status.Raw); err != nil {
			return nil, err
		}
		return s.orderRepo.FindByID(ctx, orderID)
	}
	return order, nil
}

// AdminOverride 管理员强制变更状态（非终态→paid|failed|cancelled）。
// 强制置为paid且无交易号时合成占位交易号，支付时间取当前时刻。
func (s *OrderService) AdminOverride(ctx context.Context, orderID, targetStatus, operatorID string) (*entity.PaymentOrder, error) {
	switch targetStatus {
	case entity.OrderStatusPaid, entity.OrderStatusFailed, entity.OrderStatusCancelled:
	default:
		return nil, ErrInvalidStatus
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if entity.TerminalStatus(order.Status) {
		return nil, ErrOrderStateInvalid
	}

	var tradeNo string
	var paidAt *time.Time
	if targetStatus == entity.OrderStatusPaid {
		now := time.Now()
		paidAt = &now
		if order.TradeNo == "" {
			tradeNo = fmt.Sprintf("ADMIN%d", now.UnixMilli())
		}
	}

	data := map[string]interface{}{
		"operator_id":   operatorID,
		"target_status": targetStatus,
		"operated_at":   time.Now().Format(time.RFC3339),
	}
	changed, err := s.orderRepo.Override(ctx, orderID, targetStatus, tradeNo, paidAt, data)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrOrderStateInvalid
	}

	s.logger.Info("管理员强制变更订单状态",
		zap.String("order_id", orderID),
		zap.String("target_status", targetStatus),
		zap.String("operator_id", operatorID))
	return s.orderRepo.FindByID(ctx, orderID)
}

// DeleteBySubmissionTx 在给定事务内删除某次提交的全部订单，提交删除时级联调用
func (s *OrderService) DeleteBySubmissionTx(ctx context.Context, tx *gorm.DB, submissionID string) error {
	return s.orderRepo.DeleteBySubmissionTx(ctx, tx, submissionID)
}

// DeleteAllTx 在给定事务内清空全部订单，清库操作的一部分
func (s *OrderService) DeleteAllTx(ctx context.Context, tx *gorm.DB) error {
	return s.orderRepo.DeleteAllTx(ctx, tx)
}

// Get 订单详情
func (s *OrderService) Get(ctx context.Context, orderID string) (*entity.PaymentOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetByOrderNo 按订单号查询，支付宝同步跳转回来时使用
func (s *OrderService) GetByOrderNo(ctx context.Context, orderNo string) (*entity.PaymentOrder, error) {
	order, err := s.orderRepo.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListBySubmission 某次提交的订单列表
func (s *OrderService) ListBySubmission(ctx context.Context, submissionID string) ([]entity.PaymentOrder, error) {
	return s.orderRepo.ListBySubmission(ctx, submissionID)
}

// ListByUser 某用户的订单列表
func (s *OrderService) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]entity.PaymentOrder, int64, error) {
	return s.orderRepo.ListByUser(ctx, userID, page, pageSize)
}

// List 管理端订单列表
func (s *OrderService) List(ctx context.Context, status string, page, pageSize int) ([]entity.PaymentOrder, int64, error) {
	return s.orderRepo.List(ctx, status, page, pageSize)
}
