package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zouyuanqing/formpay/internal/form/entity"
	"github.com/zouyuanqing/formpay/internal/form/repository"
	paymentrepo "github.com/zouyuanqing/formpay/internal/payment/repository"
)

// ErrFormLocked 已有提交的表单不允许结构性修改或删除
var ErrFormLocked = errors.New("form has submissions and is locked for structural changes")

// FormService 表单定义服务（管理端授权操作）
type FormService struct {
	formRepo       *repository.FormRepository
	submissionRepo *repository.SubmissionRepository
	accountRepo    *paymentrepo.AccountRepository
}

// NewFormService 创建表单定义服务
func NewFormService(formRepo *repository.FormRepository, submissionRepo *repository.SubmissionRepository, accountRepo *paymentrepo.AccountRepository) *FormService {
	return &FormService{
		formRepo:       formRepo,
		submissionRepo: submissionRepo,
		accountRepo:    accountRepo,
	}
}

// FieldRequest 字段定义请求
type FieldRequest struct {
	FieldName        string   `json:"field_name" binding:"required"`
	FieldLabel       string   `json:"field_label" binding:"required"`
	FieldType        string   `json:"field_type" binding:"required"`
	Options          []string `json:"options"`
	IsRequired       bool     `json:"is_required"`
	OrderIndex       int      `json:"order_index"`
	Placeholder      string   `json:"placeholder"`
	PaymentAccountID string   `json:"payment_account_id"`
}

// CreateFormRequest 创建表单请求
type CreateFormRequest struct {
	Title                    string         `json:"title" binding:"required"`
	Description              string         `json:"description"`
	AllowMultipleSubmissions bool           `json:"allow_multiple_submissions"`
	Fields                   []FieldRequest `json:"fields" binding:"required"`
}

// UpdateFormRequest 更新表单请求，Fields为nil时不改动字段结构
type UpdateFormRequest struct {
	Title                    *string        `json:"title"`
	Description              *string        `json:"description"`
	IsActive                 *bool          `json:"is_active"`
	AllowMultipleSubmissions *bool          `json:"allow_multiple_submissions"`
	Fields                   []FieldRequest `json:"fields"`
}

// validateFields 授权期校验字段定义。
// 选项值不允许包含逗号：多选持久化以逗号为分隔符，含逗号的选项读回时无法还原。
func (s *FormService) validateFields(ctx context.Context, fields []FieldRequest) error {
	if len(fields) == 0 {
		return fmt.Errorf("表单至少需要一个字段")
	}

	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.FieldName] {
			return fmt.Errorf("字段名重复: %s", f.FieldName)
		}
		seen[f.FieldName] = true

		if !entity.ValidFieldType(f.FieldType) {
			return fmt.Errorf("字段 %s 类型不支持: %s", f.FieldName, f.FieldType)
		}

		if entity.IsChoiceType(f.FieldType) {
			if len(f.Options) == 0 {
				return fmt.Errorf("字段 %s 必须提供选项列表", f.FieldName)
			}
			for _, opt := range f.Options {
				if strings.Contains(opt, ",") {
					return fmt.Errorf("字段 %s 的选项值不允许包含逗号: %s", f.FieldName, opt)
				}
			}
		}

		if entity.IsPaymentType(f.FieldType) {
			if f.PaymentAccountID == "" {
				return fmt.Errorf("支付字段 %s 必须绑定收款账户", f.FieldName)
			}
			account, err := s.accountRepo.FindByID(ctx, f.PaymentAccountID)
			if err != nil {
				return err
			}
			if account == nil || !account.IsActive {
				return fmt.Errorf("支付字段 %s 绑定的收款账户不可用", f.FieldName)
			}
		}
	}
	return nil
}

func buildFields(formID string, reqs []FieldRequest) []entity.FormField {
	fields := make([]entity.FormField, 0, len(reqs))
	for i, f := range reqs {
		field := entity.FormField{
			ID:               uuid.New().String()[:32],
			FormID:           formID,
			FieldName:        f.FieldName,
			FieldLabel:       f.FieldLabel,
			FieldType:        f.FieldType,
			IsRequired:       f.IsRequired,
			OrderIndex:       f.OrderIndex,
			Placeholder:      f.Placeholder,
			PaymentAccountID: f.PaymentAccountID,
		}
		if field.OrderIndex == 0 {
			field.OrderIndex = i
		}
		// 支付字段强制必填
		if entity.IsPaymentType(f.FieldType) {
			field.IsRequired = true
		}
		field.SetOptions(f.Options)
		fields = append(fields, field)
	}
	return fields
}

// Create 创建表单
func (s *FormService) Create(ctx context.Context, adminID string, req *CreateFormRequest) (*entity.Form, error) {
	if err := s.validateFields(ctx, req.Fields); err != nil {
		return nil, err
	}

	now := time.Now()
	form := &entity.Form{
		ID:                       uuid.New().String()[:32],
		Title:                    req.Title,
		Description:              req.Description,
		IsActive:                 true,
		AllowMultipleSubmissions: req.AllowMultipleSubmissions,
		CreatedBy:                adminID,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	form.Fields = buildFields(form.ID, req.Fields)

	if err := s.formRepo.Create(ctx, form); err != nil {
		return nil, fmt.Errorf("创建表单失败: %w", err)
	}
	return form, nil
}

// Update 更新表单。
// 基础信息随时可改；字段结构在已有提交后锁定，避免历史提交数据失去可解释性。
func (s *FormService) Update(ctx context.Context, id string, req *UpdateFormRequest) (*entity.Form, error) {
	form, err := s.formRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, ErrFormNotFound
	}

	if req.Title != nil {
		form.Title = *req.Title
	}
	if req.Description != nil {
		form.Description = *req.Description
	}
	if req.IsActive != nil {
		form.IsActive = *req.IsActive
	}
	if req.AllowMultipleSubmissions != nil {
		form.AllowMultipleSubmissions = *req.AllowMultipleSubmissions
	}
	form.UpdatedAt = time.Now()

	if err := s.formRepo.Update(ctx, form); err != nil {
		return nil, fmt.Errorf("更新表单失败: %w", err)
	}

	if req.Fields != nil {
		count, err := s.submissionRepo.CountByForm(ctx, id)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrFormLocked
		}
		if err := s.validateFields(ctx, req.Fields); err != nil {
			return nil, err
		}
		if err := s.formRepo.ReplaceFields(ctx, id, buildFields(id, req.Fields)); err != nil {
			return nil, fmt.Errorf("更新表单字段失败: %w", err)
		}
	}

	return s.formRepo.FindByID(ctx, id)
}

// Delete 删除表单，已有提交时拒绝
func (s *FormService) Delete(ctx context.Context, id string) error {
	form, err := s.formRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if form == nil {
		return ErrFormNotFound
	}

	count, err := s.submissionRepo.CountByForm(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrFormLocked
	}
	return s.formRepo.Delete(ctx, id)
}

// Get 表单详情
func (s *FormService) Get(ctx context.Context, id string) (*entity.Form, error) {
	form, err := s.formRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, ErrFormNotFound
	}
	return form, nil
}

// List 表单列表
func (s *FormService) List(ctx context.Context, activeOnly bool, page, pageSize int) ([]entity.Form, int64, error) {
	return s.formRepo.List(ctx, activeOnly, page, pageSize)
}
