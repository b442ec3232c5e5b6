package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/zouyuanqing/formpay/internal/payment/entity"
	"github.com/zouyuanqing/formpay/internal/payment/service"
	"github.com/zouyuanqing/formpay/internal/shared/gateway"
)

// PaymentHandler 支付订单处理器
type PaymentHandler struct {
	svc *service.OrderService
}

// NewPaymentHandler 创建支付订单处理器
func NewPaymentHandler(svc *service.OrderService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

// orderView 订单对外展示，收款账户做脱敏处理
func orderView(order *entity.PaymentOrder) gin.H {
	view := gin.H{
		"id":           order.ID,
		"order_no":     order.OrderNo,
		"field_name":   order.FieldName,
		"payment_type": order.PaymentType,
		"amount":       order.Amount,
		"status":       order.Status,
		"trade_no":     order.TradeNo,
		"created_at":   order.CreatedAt,
		"paid_at":      order.PaidAt,
	}
	if order.PaymentAccount != nil {
		view["payment_account"] = order.PaymentAccount.Display()
	}
	return view
}

// Get 订单状态查询（本地状态，不触发网关调用）
// GET /api/v1/payments/:id
func (h *PaymentHandler) Get(c *gin.Context) {
	order, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			NotFound(c, "订单不存在")
			return
		}
		InternalError(c, "获取订单失败: "+err.Error())
		return
	}
	Success(c, orderView(order))
}

// Initiate 发起支付
// POST /api/v1/payments/:id/initiate
func (h *PaymentHandler) Initiate(c *gin.Context) {
	result, err := h.svc.Initiate(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			NotFound(c, "订单不存在")
		case errors.Is(err, service.ErrOrderStateInvalid):
			Conflict(c, "订单状态不允许发起支付")
		case errors.Is(err, gateway.ErrNotConfigured):
			InternalError(c, "该支付方式暂不可用")
		default:
			InternalError(c, "发起支付失败: "+err.Error())
		}
		return
	}
	Success(c, gin.H{
		"order":       orderView(result.Order),
		"payment_url": result.PaymentURL,
		"qr_payload":  result.QRPayload,
	})
}

// Poll 主动查询网关支付状态并同步本地订单
// POST /api/v1/payments/:id/poll
func (h *PaymentHandler) Poll(c *gin.Context) {
	order, err := h.svc.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			NotFound(c, "订单不存在")
			return
		}
		InternalError(c, "查询支付状态失败: "+err.Error())
		return
	}
	Success(c, orderView(order))
}

// ListBySubmission 某次提交的待支付订单（收银台页面数据）
// GET /api/v1/submissions/:id/payments
func (h *PaymentHandler) ListBySubmission(c *gin.Context) {
	orders, err := h.svc.ListBySubmission(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, "获取订单列表失败: "+err.Error())
		return
	}
	views := make([]gin.H, 0, len(orders))
	for i := range orders {
		views = append(views, orderView(&orders[i]))
	}
	Success(c, gin.H{"items": views})
}

// History 当前用户的支付历史
// GET /api/v1/payments
func (h *PaymentHandler) History(c *gin.Context) {
	page, pageSize := GetPagination(c)
	orders, total, err := h.svc.ListByUser(c.Request.Context(), GetUserID(c), page, pageSize)
	if err != nil {
		InternalError(c, "获取支付历史失败: "+err.Error())
		return
	}
	views := make([]gin.H, 0, len(orders))
	for i := range orders {
		views = append(views, orderView(&orders[i]))
	}
	Success(c, gin.H{
		"items": views,
		"total": total,
	})
}

// Return 支付宝同步跳转回来的落地处理。
// 同步跳转参数不可信，只按订单号触发一次主动查询，不直接改状态。
// GET /api/v1/payments/return/alipay
func (h *PaymentHandler) Return(c *gin.Context) {
	orderNo := c.Query("out_trade_no")
	if orderNo == "" {
		BadRequest(c, "缺少订单号")
		return
	}

	order, err := h.svc.GetByOrderNo(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			NotFound(c, "订单不存在")
			return
		}
		InternalError(c, "获取订单失败: "+err.Error())
		return
	}

	order, err = h.svc.Poll(c.Request.Context(), order.ID)
	if err != nil {
		InternalError(c, "查询支付状态失败: "+err.Error())
		return
	}
	Success(c, orderView(order))
}

// AdminList 管理端订单列表
// GET /api/v1/admin/payments
func (h *PaymentHandler) AdminList(c *gin.Context) {
	page, pageSize := GetPagination(c)
	orders, total, err := h.svc.List(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		InternalError(c, "获取订单列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"items": orders,
		"total": total,
	})
}

// OverrideRequest 管理员强制变更状态请求
type OverrideRequest struct {
	Status string `json:"status" binding:"required"`
}

// Override 管理员强制变更订单状态
// PUT /api/v1/admin/payments/:id/status
func (h *PaymentHandler) Override(c *gin.Context) {
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	order, err := h.svc.AdminOverride(c.Request.Context(), c.Param("id"), req.Status, GetUserID(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			NotFound(c, "订单不存在")
		case errors.Is(err, service.ErrInvalidStatus):
			BadRequest(c, "目标状态只能是 paid、failed 或 cancelled")
		case errors.Is(err, service.ErrOrderStateInvalid):
			Conflict(c, "订单已是终态，不允许变更")
		default:
			InternalError(c, "变更订单状态失败: "+err.Error())
		}
		return
	}
	Success(c, order)
}
