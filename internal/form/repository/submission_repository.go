package repository

import (
	"context"
	"errors"

	"github.com/zouyuanqing/formpay/internal/form/entity"
	"gorm.io/gorm"
)

// SubmissionRepository 提交记录仓库
type SubmissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository 创建提交记录仓库
func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// FindByID 根据ID查找提交，预加载数据行和文件
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*entity.Submission, error) {
	var submission entity.Submission
	err := r.db.WithContext(ctx).
		Preload("Data").
		Preload("Files").
		Where("id = ?", id).
		First(&submission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &submission, nil
}

// ListByForm 某表单的提交列表
func (r *SubmissionRepository) ListByForm(ctx context.Context, formID string, page, pageSize int) ([]entity.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Submission{}).Where("form_id = ?", formID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var submissions []entity.Submission
	err := query.
		Preload("Data").
		Preload("Files").
		Order("submitted_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&submissions).Error
	return submissions, total, err
}

// ListByUser 某用户的提交列表
func (r *SubmissionRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]entity.Submission, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Submission{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var submissions []entity.Submission
	err := query.
		Preload("Data").
		Order("submitted_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&submissions).Error
	return submissions, total, err
}

// ExistsByFormAndUser 用户是否已提交过该表单（单次填写限制用）
func (r *SubmissionRepository) ExistsByFormAndUser(ctx context.Context, formID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Submission{}).
		Where("form_id = ? AND user_id = ?", formID, userID).
		Count(&count).Error
	return count > 0, err
}

// CountByForm 某表单的提交总数，结构性编辑锁定依据
func (r *SubmissionRepository) CountByForm(ctx context.Context, formID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Submission{}).
		Where("form_id = ?", formID).
		Count(&count).Error
	return count, err
}

// UpdateStatus 更新审核状态
func (r *SubmissionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	result := r.db.WithContext(ctx).
		Model(&entity.Submission{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindFileByID 根据ID查找上传文件记录
func (r *SubmissionRepository) FindFileByID(ctx context.Context, id string) (*entity.UploadFile, error) {
	var file entity.UploadFile
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}
