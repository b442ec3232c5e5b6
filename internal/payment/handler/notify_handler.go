package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zouyuanqing/formpay/internal/payment/entity"
	"github.com/zouyuanqing/formpay/internal/payment/service"
	"go.uber.org/zap"
)

// NotifyHandler 支付异步回调处理器。
// 回调端点不鉴权，真实性靠网关验签保证；
// 应答必须是各家渠道约定的原文，应答错了对方会无限重试。
type NotifyHandler struct {
	svc    *service.OrderService
	logger *zap.Logger
}

// NewNotifyHandler 创建回调处理器
func NewNotifyHandler(svc *service.OrderService, logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{svc: svc, logger: logger}
}

func (h *NotifyHandler) handle(c *gin.Context, paymentType string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("读取回调请求体失败",
			zap.String("payment_type", paymentType),
			zap.Error(err))
		c.String(http.StatusBadRequest, "fail")
		return
	}

	ack, contentType := h.svc.HandleNotification(c.Request.Context(), paymentType, body)
	c.Data(http.StatusOK, contentType, []byte(ack))
}

// WechatNotify 微信支付回调
// POST /api/v1/payments/notify/wechat
func (h *NotifyHandler) WechatNotify(c *gin.Context) {
	h.handle(c, entity.PaymentTypeWechat)
}

// AlipayNotify 支付宝回调
// POST /api/v1/payments/notify/alipay
func (h *NotifyHandler) AlipayNotify(c *gin.Context) {
	h.handle(c, entity.PaymentTypeAlipay)
}
