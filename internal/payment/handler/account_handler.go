package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/zouyuanqing/formpay/internal/payment/service"
)

// AccountHandler 收款账户处理器（管理端）
type AccountHandler struct {
	svc *service.AccountService
}

// NewAccountHandler 创建收款账户处理器
func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// List 账户列表
// GET /api/v1/admin/accounts
func (h *AccountHandler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	accounts, err := h.svc.List(c.Request.Context(), activeOnly)
	if err != nil {
		InternalError(c, "获取账户列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{"items": accounts})
}

// Get 账户详情
// GET /api/v1/admin/accounts/:id
func (h *AccountHandler) Get(c *gin.Context) {
	account, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			NotFound(c, "收款账户不存在")
			return
		}
		InternalError(c, "获取账户失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"account": account,
		"display": account.Display(),
	})
}

// Create 创建账户
// POST /api/v1/admin/accounts
func (h *AccountHandler) Create(c *gin.Context) {
	var req service.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	account, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Created(c, account)
}

// Update 更新账户
// PUT /api/v1/admin/accounts/:id
func (h *AccountHandler) Update(c *gin.Context) {
	var req service.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	account, err := h.svc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			NotFound(c, "收款账户不存在")
			return
		}
		BadRequest(c, err.Error())
		return
	}
	Success(c, account)
}

// Delete 删除账户
// DELETE /api/v1/admin/accounts/:id
func (h *AccountHandler) Delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccountNotFound):
			NotFound(c, "收款账户不存在")
		case errors.Is(err, service.ErrAccountInUse):
			Conflict(c, "收款账户已被表单引用，不允许删除")
		default:
			InternalError(c, "删除账户失败: "+err.Error())
		}
		return
	}
	Success(c, nil)
}
