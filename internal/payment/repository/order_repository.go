package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/zouyuanqing/formpay/internal/payment/entity"
	"gorm.io/gorm"
)

// OrderRepository 支付订单仓库
// 所有状态变更都是以当前存储状态为条件的单条UPDATE，不做读-改-写。
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建支付订单仓库
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateTx 在给定事务内创建订单。
// 订单号撞唯一索引时返回 ErrDuplicateOrderNo，由调用方换号重试。
func (r *OrderRepository) CreateTx(ctx context.Context, tx *gorm.DB, order *entity.PaymentOrder) error {
	err := tx.WithContext(ctx).Create(order).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateOrderNo
	}
	return err
}

// FindByID 根据ID查找订单
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.PaymentOrder, error) {
	var order entity.PaymentOrder
	err := r.db.WithContext(ctx).
		Preload("PaymentAccount").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// FindByOrderNo 根据订单号查找订单，回调处理只认订单号
func (r *OrderRepository) FindByOrderNo(ctx context.Context, orderNo string) (*entity.PaymentOrder, error) {
	var order entity.PaymentOrder
	err := r.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ListBySubmission 某次提交的全部订单
func (r *OrderRepository) ListBySubmission(ctx context.Context, submissionID string) ([]entity.PaymentOrder, error) {
	var orders []entity.PaymentOrder
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// ListByUser 某用户的订单（经提交记录关联）
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]entity.PaymentOrder, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&entity.PaymentOrder{}).
		Where("submission_id IN (?)",
			r.db.Table("submissions").Select("id").Where("user_id = ?", userID))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []entity.PaymentOrder
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	return orders, total, err
}

// List 订单列表，status为空时返回全部
func (r *OrderRepository) List(ctx context.Context, status string, page, pageSize int) ([]entity.PaymentOrder, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.PaymentOrder{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []entity.PaymentOrder
	err := query.
		Preload("PaymentAccount").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	return orders, total, err
}

// MarkProcessing pending→processing 条件更新。
// 返回是否真正发生了状态变更；false表示当前状态已不是pending。
func (r *OrderRepository) MarkProcessing(ctx context.Context, id, tradeNo string, gatewayData map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status": entity.OrderStatusProcessing,
	}
	if tradeNo != "" {
		updates["trade_no"] = tradeNo
	}
	if expr := mergeDataExpr("initiate", gatewayData); expr != nil {
		updates["payment_data"] = expr
	}

	result := r.db.WithContext(ctx).
		Model(&entity.PaymentOrder{}).
		Where("id = ? AND status = ?", id, entity.OrderStatusPending).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// MarkPaid pending|processing→paid 条件更新，按订单号定位。
// paidAt 取服务端当前时间，不使用回调里携带的时间。
// 返回是否真正发生了状态变更；false通常意味着订单已是终态（重复回调）。
func (r *OrderRepository) MarkPaid(ctx context.Context, orderNo, tradeNo, event string, gatewayData map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":  entity.OrderStatusPaid,
		"paid_at": time.Now(),
	}
	if tradeNo != "" {
		updates["trade_no"] = tradeNo
	}
	if expr := mergeDataExpr(event, gatewayData); expr != nil {
		updates["payment_data"] = expr
	}

	result := r.db.WithContext(ctx).
		Model(&entity.PaymentOrder{}).
		Where("order_no = ? AND status IN ?", orderNo,
			[]string{entity.OrderStatusPending, entity.OrderStatusProcessing}).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// Override 管理员强制变更状态，仅对非终态订单生效
func (r *OrderRepository) Override(ctx context.Context, id, status, tradeNo string, paidAt *time.Time, data map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status": status,
	}
	if tradeNo != "" {
		updates["trade_no"] = tradeNo
	}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	if expr := mergeDataExpr("override", data); expr != nil {
		updates["payment_data"] = expr
	}

	result := r.db.WithContext(ctx).
		Model(&entity.PaymentOrder{}).
		Where("id = ? AND status NOT IN ?", id,
			[]string{entity.OrderStatusPaid, entity.OrderStatusFailed, entity.OrderStatusCancelled}).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// DeleteBySubmissionTx 在给定事务内删除某次提交的全部订单
func (r *OrderRepository) DeleteBySubmissionTx(ctx context.Context, tx *gorm.DB, submissionID string) error {
	return tx.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Delete(&entity.PaymentOrder{}).Error
}

// DeleteAllTx 在给定事务内清空全部订单（管理员清库操作）
func (r *OrderRepository) DeleteAllTx(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&entity.PaymentOrder{}).Error
}

// mergeDataExpr 生成jsonb合并表达式，按事件名做命名空间，只追加不覆盖历史数据
func mergeDataExpr(event string, data map[string]interface{}) interface{} {
	if len(data) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{event: data})
	if err != nil {
		return nil
	}
	return gorm.Expr("COALESCE(payment_data, '{}'::jsonb) || ?::jsonb", string(payload))
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
