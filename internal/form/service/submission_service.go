package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zouyuanqing/formpay/internal/form/entity"
	"github.com/zouyuanqing/formpay/internal/form/repository"
	paymentsvc "github.com/zouyuanqing/formpay/internal/payment/service"
	"github.com/zouyuanqing/formpay/internal/shared/redislock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 错误定义
var (
	ErrFormNotFound        = errors.New("form not found")
	ErrFormInactive        = errors.New("form is not active")
	ErrDuplicateSubmission = errors.New("form already submitted")
	ErrSubmissionNotFound  = errors.New("submission not found")
)

// 重复提交锁的有效期，覆盖一次提交事务的最长耗时
const submitLockTTL = 10 * time.Second

// SubmitResult 提交结果。
// OrderIDs 非空时调用方需要引导用户进入收银台而不是完成页。
type SubmitResult struct {
	SubmissionID string   `json:"submission_id"`
	OrderIDs     []string `json:"order_ids"`
}

// SubmissionService 提交服务
// 一次提交 = 一个事务：提交头、数据行、文件记录、支付订单要么全部落库要么全不落库。
type SubmissionService struct {
	db             *gorm.DB
	formRepo       *repository.FormRepository
	submissionRepo *repository.SubmissionRepository
	builder        *FormBuilder
	store          FileStore
	orderSvc       *paymentsvc.OrderService
	locker         *redislock.Locker
	logger         *zap.Logger
}

// NewSubmissionService 创建提交服务
func NewSubmissionService(db *gorm.DB, repos *repository.Repositories, builder *FormBuilder, store FileStore, orderSvc *paymentsvc.OrderService, locker *redislock.Locker, logger *zap.Logger) *SubmissionService {
	return &SubmissionService{
		db:             db,
		formRepo:       repos.Form,
		submissionRepo: repos.Submission,
		builder:        builder,
		store:          store,
		orderSvc:       orderSvc,
		locker:         locker,
		logger:         logger,
	}
}

// Submit 校验并记录一次提交。
// 校验失败返回 FieldErrors，全部字段的错误一次性返回；
// 校验通过后进入单个事务写入，任何子步骤失败都整体回滚并清理已落盘文件。
func (s *SubmissionService) Submit(ctx context.Context, formID, userID string, input *CombinedInput) (*SubmitResult, error) {
	form, err := s.formRepo.FindByID(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, ErrFormNotFound
	}
	if !form.IsActive {
		return nil, ErrFormInactive
	}

	if !form.AllowMultipleSubmissions {
		// 先抢占位锁拦截同一用户的并发双击，再查历史提交
		lockKey := fmt.Sprintf("formpay:submit:%s:%s", formID, userID)
		acquired, release, err := s.locker.Acquire(ctx, lockKey, submitLockTTL)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrDuplicateSubmission
		}
		defer release()

		exists, err := s.submissionRepo.ExistsByFormAndUser(ctx, formID, userID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateSubmission
		}
	}

	values, fieldErrs := s.builder.Build(form.Fields, input)
	if fieldErrs != nil {
		return nil, fieldErrs
	}

	// 记录事务内已落盘的文件，回滚时清理
	var savedFiles []string
	result, err := s.record(ctx, form, userID, values, &savedFiles)
	if err != nil {
		for _, name := range savedFiles {
			if delErr := s.store.Delete(ctx, name); delErr != nil {
				s.logger.Warn("回滚清理文件失败",
					zap.String("saved_filename", name),
					zap.Error(delErr))
			}
		}
		return nil, err
	}
	return result, nil
}

func (s *SubmissionService) record(ctx context.Context, form *entity.Form, userID string, values []FieldValue, savedFiles *[]string) (*SubmitResult, error) {
	result := &SubmitResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		submission := &entity.Submission{
			ID:          uuid.New().String()[:32],
			FormID:      form.ID,
			UserID:      userID,
			Status:      entity.SubmissionStatusSubmitted,
			SubmittedAt: time.Now(),
		}
		if err := tx.Create(submission).Error; err != nil {
			return fmt.Errorf("创建提交记录失败: %w", err)
		}
		result.SubmissionID = submission.ID

		// 按字段定义顺序写入子行
		for _, value := range values {
			if value.Empty {
				continue
			}

			switch {
			case value.File != nil:
				savedName, size, err := s.store.Save(ctx, value.File)
				if err != nil {
					return fmt.Errorf("保存文件失败: %w", err)
				}
				*savedFiles = append(*savedFiles, savedName)

				file := &entity.UploadFile{
					ID:               uuid.New().String()[:32],
					SubmissionID:     submission.ID,
					FieldName:        value.Field.FieldName,
					OriginalFilename: value.File.Filename,
					SavedFilename:    savedName,
					FileSize:         size,
					FileType:         value.File.Header.Get("Content-Type"),
					UploadedAt:       time.Now(),
				}
				if err := tx.Create(file).Error; err != nil {
					return fmt.Errorf("记录文件失败: %w", err)
				}

			case entity.IsPaymentType(value.Field.FieldType):
				order, err := s.orderSvc.CreateOrderTx(ctx, tx, submission.ID,
					value.Field.FieldName, value.Field.FieldType, value.Amount,
					value.Field.PaymentAccountID)
				if err != nil {
					return fmt.Errorf("创建支付订单失败: %w", err)
				}
				result.OrderIDs = append(result.OrderIDs, order.ID)

				// 金额镜像行仅供展示，支付状态以订单为准
				mirror := &entity.SubmissionData{
					ID:           uuid.New().String()[:32],
					SubmissionID: submission.ID,
					FieldName:    value.Field.FieldName,
					FieldValue:   value.Text,
				}
				if err := tx.Create(mirror).Error; err != nil {
					return fmt.Errorf("写入提交数据失败: %w", err)
				}

			default:
				row := &entity.SubmissionData{
					ID:           uuid.New().String()[:32],
					SubmissionID: submission.ID,
					FieldName:    value.Field.FieldName,
					FieldValue:   value.PersistedValue(),
				}
				if err := tx.Create(row).Error; err != nil {
					return fmt.Errorf("写入提交数据失败: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("表单提交成功",
		zap.String("form_id", form.ID),
		zap.String("submission_id", result.SubmissionID),
		zap.Int("order_count", len(result.OrderIDs)))
	return result, nil
}

// Get 提交详情
func (s *SubmissionService) Get(ctx context.Context, id string) (*entity.Submission, error) {
	submission, err := s.submissionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}
	return submission, nil
}

// ListByForm 某表单的提交列表
func (s *SubmissionService) ListByForm(ctx context.Context, formID string, page, pageSize int) ([]entity.Submission, int64, error) {
	return s.submissionRepo.ListByForm(ctx, formID, page, pageSize)
}

// ListByUser 某用户的提交列表
func (s *SubmissionService) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]entity.Submission, int64, error) {
	return s.submissionRepo.ListByUser(ctx, userID, page, pageSize)
}

// UpdateStatus 管理员更新审核状态
func (s *SubmissionService) UpdateStatus(ctx context.Context, id, status string) error {
	switch status {
	case entity.SubmissionStatusSubmitted, entity.SubmissionStatusApproved, entity.SubmissionStatusRejected:
	default:
		return fmt.Errorf("不支持的审核状态: %s", status)
	}
	err := s.submissionRepo.UpdateStatus(ctx, id, status)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSubmissionNotFound
	}
	return err
}

// GetFile 上传文件记录
func (s *SubmissionService) GetFile(ctx context.Context, id string) (*entity.UploadFile, error) {
	return s.submissionRepo.FindFileByID(ctx, id)
}

// Delete 管理员删除一次提交。
// 数据行、文件记录、支付订单与提交头在同一事务内删除，
// 已落盘的文件在事务提交后清理。
func (s *SubmissionService) Delete(ctx context.Context, id string) error {
	submission, err := s.submissionRepo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if submission == nil {
		return ErrSubmissionNotFound
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderSvc.DeleteBySubmissionTx(ctx, tx, id); err != nil {
			return fmt.Errorf("删除支付订单失败: %w", err)
		}
		if err := tx.Where("submission_id = ?", id).Delete(&entity.UploadFile{}).Error; err != nil {
			return fmt.Errorf("删除文件记录失败: %w", err)
		}
		if err := tx.Where("submission_id = ?", id).Delete(&entity.SubmissionData{}).Error; err != nil {
			return fmt.Errorf("删除提交数据失败: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&entity.Submission{}).Error; err != nil {
			return fmt.Errorf("删除提交记录失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, file := range submission.Files {
		if delErr := s.store.Delete(ctx, file.SavedFilename); delErr != nil {
			s.logger.Warn("删除已保存文件失败",
				zap.String("saved_filename", file.SavedFilename),
				zap.Error(delErr))
		}
	}

	s.logger.Info("提交已删除",
		zap.String("submission_id", id),
		zap.Int("file_count", len(submission.Files)))
	return nil
}

// ClearAll 清空全部提交与支付数据，表单定义和收款账户保留。
// 不是并发安全操作，执行期间必须停止对外的提交入口。
func (s *SubmissionService) ClearAll(ctx context.Context) error {
	var files []entity.UploadFile
	if err := s.db.WithContext(ctx).Find(&files).Error; err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		global := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := s.orderSvc.DeleteAllTx(ctx, tx); err != nil {
			return fmt.Errorf("清空支付订单失败: %w", err)
		}
		if err := global.Delete(&entity.UploadFile{}).Error; err != nil {
			return fmt.Errorf("清空文件记录失败: %w", err)
		}
		if err := global.Delete(&entity.SubmissionData{}).Error; err != nil {
			return fmt.Errorf("清空提交数据失败: %w", err)
		}
		if err := global.Delete(&entity.Submission{}).Error; err != nil {
			return fmt.Errorf("清空提交记录失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, file := range files {
		if delErr := s.store.Delete(ctx, file.SavedFilename); delErr != nil {
			s.logger.Warn("删除已保存文件失败",
				zap.String("saved_filename", file.SavedFilename),
				zap.Error(delErr))
		}
	}

	s.logger.Info("已清空全部提交与支付数据", zap.Int("file_count", len(files)))
	return nil
}
