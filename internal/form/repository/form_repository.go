package repository

import (
	"context"
	"errors"

	"github.com/zouyuanqing/formpay/internal/form/entity"
	"gorm.io/gorm"
)

// FormRepository 表单定义仓库
type FormRepository struct {
	db *gorm.DB
}

// NewFormRepository 创建表单定义仓库
func NewFormRepository(db *gorm.DB) *FormRepository {
	return &FormRepository{db: db}
}

// FindByID 根据ID查找表单，字段按 order_index 排序预加载
func (r *FormRepository) FindByID(ctx context.Context, id string) (*entity.Form, error) {
	var form entity.Form
	err := r.db.WithContext(ctx).
		Preload("Fields", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_index ASC, field_name ASC")
		}).
		Where("id = ?", id).
		First(&form).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &form, nil
}

// List 表单列表，activeOnly 为真时仅返回启用中的表单
func (r *FormRepository) List(ctx context.Context, activeOnly bool, page, pageSize int) ([]entity.Form, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Form{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var forms []entity.Form
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&forms).Error
	return forms, total, err
}

// Create 创建表单及其字段
func (r *FormRepository) Create(ctx context.Context, form *entity.Form) error {
	return r.db.WithContext(ctx).Create(form).Error
}

// Update 更新表单基础信息（不含字段）
func (r *FormRepository) Update(ctx context.Context, form *entity.Form) error {
	return r.db.WithContext(ctx).
		Model(&entity.Form{}).
		Where("id = ?", form.ID).
		Updates(map[string]interface{}{
			"title":                      form.Title,
			"description":                form.Description,
			"is_active":                  form.IsActive,
			"allow_multiple_submissions": form.AllowMultipleSubmissions,
			"updated_at":                 form.UpdatedAt,
		}).Error
}

// ReplaceFields 重建表单字段集合，在事务内先删后插
func (r *FormRepository) ReplaceFields(ctx context.Context, formID string, fields []entity.FormField) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("form_id = ?", formID).Delete(&entity.FormField{}).Error; err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		return tx.Create(&fields).Error
	})
}

// Delete 删除表单及其字段
func (r *FormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("form_id = ?", id).Delete(&entity.FormField{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&entity.Form{}).Error
	})
}
