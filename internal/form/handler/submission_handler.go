package handler

import (
	"errors"
	"mime/multipart"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/zouyuanqing/formpay/internal/form/service"
	"github.com/zouyuanqing/formpay/internal/middleware"
)

// SubmissionHandler 提交处理器
type SubmissionHandler struct {
	svc   *service.SubmissionService
	store service.FileStore
}

// NewSubmissionHandler 创建提交处理器
func NewSubmissionHandler(svc *service.SubmissionService, store service.FileStore) *SubmissionHandler {
	return &SubmissionHandler{svc: svc, store: store}
}

// bindInput 把multipart或普通表单请求合并为统一的输入源
func bindInput(c *gin.Context) (*service.CombinedInput, error) {
	input := &service.CombinedInput{
		Values: url.Values{},
		Files:  map[string][]*multipart.FileHeader{},
	}

	if form, err := c.MultipartForm(); err == nil && form != nil {
		input.Values = url.Values(form.Value)
		input.Files = form.File
		return input, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	input.Values = c.Request.PostForm
	return input, nil
}

// Submit 提交表单
// POST /api/v1/forms/:id/submissions
// 返回的 order_ids 非空时，前端需要引导用户进入收银台
func (h *SubmissionHandler) Submit(c *gin.Context) {
	input, err := bindInput(c)
	if err != nil {
		BadRequest(c, "解析表单数据失败: "+err.Error())
		return
	}

	result, err := h.svc.Submit(c.Request.Context(), c.Param("id"), GetUserID(c), input)
	if err != nil {
		var fieldErrs service.FieldErrors
		switch {
		case errors.As(err, &fieldErrs):
			ValidationFailed(c, fieldErrs)
		case errors.Is(err, service.ErrFormNotFound):
			NotFound(c, "表单不存在")
		case errors.Is(err, service.ErrFormInactive):
			Forbidden(c, "表单已停用")
		case errors.Is(err, service.ErrDuplicateSubmission):
			Conflict(c, "该表单不允许重复提交")
		default:
			InternalError(c, "提交失败，请稍后重试")
		}
		return
	}
	Created(c, result)
}

// Get 提交详情，普通用户只能查看自己的提交
// GET /api/v1/submissions/:id
func (h *SubmissionHandler) Get(c *gin.Context) {
	submission, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			NotFound(c, "提交记录不存在")
			return
		}
		InternalError(c, "获取提交记录失败: "+err.Error())
		return
	}
	if !middleware.IsAdmin(c) && submission.UserID != GetUserID(c) {
		Forbidden(c, "无权查看该提交记录")
		return
	}
	Success(c, submission)
}

// ListMine 当前用户的提交列表
// GET /api/v1/submissions
func (h *SubmissionHandler) ListMine(c *gin.Context) {
	page, pageSize := GetPagination(c)
	submissions, total, err := h.svc.ListByUser(c.Request.Context(), GetUserID(c), page, pageSize)
	if err != nil {
		InternalError(c, "获取提交列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"items": submissions,
		"total": total,
	})
}

// ListByForm 某表单的全部提交（管理端）
// GET /api/v1/admin/forms/:id/submissions
func (h *SubmissionHandler) ListByForm(c *gin.Context) {
	page, pageSize := GetPagination(c)
	submissions, total, err := h.svc.ListByForm(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		InternalError(c, "获取提交列表失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"items": submissions,
		"total": total,
	})
}

// UpdateStatusRequest 审核状态更新请求
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus 管理员更新审核状态
// PUT /api/v1/admin/submissions/:id/status
func (h *SubmissionHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	if err := h.svc.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			NotFound(c, "提交记录不存在")
			return
		}
		BadRequest(c, err.Error())
		return
	}
	Success(c, nil)
}

// Delete 管理员删除一次提交，数据行、文件和支付订单一并删除
// DELETE /api/v1/admin/submissions/:id
func (h *SubmissionHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			NotFound(c, "提交记录不存在")
			return
		}
		InternalError(c, "删除提交记录失败: "+err.Error())
		return
	}
	Success(c, nil)
}

// ClearData 清空全部提交与支付数据，表单定义和收款账户保留
// POST /api/v1/admin/database/clear
// 执行期间必须停止对外的提交入口
func (h *SubmissionHandler) ClearData(c *gin.Context) {
	if err := h.svc.ClearAll(c.Request.Context()); err != nil {
		InternalError(c, "清空数据失败: "+err.Error())
		return
	}
	Success(c, nil)
}

// DownloadFile 下载上传文件（管理端）
// GET /api/v1/admin/files/:id
func (h *SubmissionHandler) DownloadFile(c *gin.Context) {
	file, err := h.svc.GetFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, "获取文件记录失败: "+err.Error())
		return
	}
	if file == nil {
		NotFound(c, "文件不存在")
		return
	}

	local, ok := h.store.(*service.LocalStore)
	if !ok {
		NotFound(c, "文件存储不支持直接下载")
		return
	}
	c.FileAttachment(local.Path(file.SavedFilename), file.OriginalFilename)
}
