package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/zouyuanqing/formpay/internal/form/service"
	"github.com/zouyuanqing/formpay/internal/middleware"
)

// FormHandler 表单定义处理器
type FormHandler struct {
	svc *service.FormService
}

// NewFormHandler 创建表单定义处理器
func NewFormHandler(svc *service.FormService) *FormHandler {
	return &FormHandler{svc: svc}
}

// List 表单列表
// GET /api/v1/forms
// 非管理员只能看到启用中的表单
func (h *FormHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	activeOnly := !middleware.IsAdmin(c)

	forms, total, err := h.svc.List(c.Request.Context(), activeOnly, page, pageSize)
	if err != nil {
		InternalError(c, "获取表单列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"items": forms,
		"total": total,
	})
}

// Get 表单详情（含字段定义，按顺序返回）
// GET /api/v1/forms/:id
func (h *FormHandler) Get(c *gin.Context) {
	form, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrFormNotFound) {
			NotFound(c, "表单不存在")
			return
		}
		InternalError(c, "获取表单失败: "+err.Error())
		return
	}
	if !form.IsActive && !middleware.IsAdmin(c) {
		NotFound(c, "表单不存在")
		return
	}
	Success(c, form)
}

// Create 创建表单
// POST /api/v1/admin/forms
func (h *FormHandler) Create(c *gin.Context) {
	var req service.CreateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	form, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	Created(c, form)
}

// Update 更新表单
// PUT /api/v1/admin/forms/:id
func (h *FormHandler) Update(c *gin.Context) {
	var req service.UpdateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	form, err := h.svc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFormNotFound):
			NotFound(c, "表单不存在")
		case errors.Is(err, service.ErrFormLocked):
			Conflict(c, "表单已有提交记录，不允许修改字段结构")
		default:
			BadRequest(c, err.Error())
		}
		return
	}
	Success(c, form)
}

// Delete 删除表单
// DELETE /api/v1/admin/forms/:id
func (h *FormHandler) Delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFormNotFound):
			NotFound(c, "表单不存在")
		case errors.Is(err, service.ErrFormLocked):
			Conflict(c, "表单已有提交记录，不允许删除")
		default:
			InternalError(c, "删除表单失败: "+err.Error())
		}
		return
	}
	Success(c, nil)
}
