package entity

import "time"

// 提交审核状态（与支付状态相互独立）
const (
	SubmissionStatusSubmitted = "submitted"
	SubmissionStatusApproved  = "approved"
	SubmissionStatusRejected  = "rejected"
)

// Submission 提交记录
type Submission struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	FormID      string    `json:"form_id" gorm:"size:32;not null;index"`
	UserID      string    `json:"user_id" gorm:"size:32;not null;index"`
	Status      string    `json:"status" gorm:"size:20;default:submitted"`
	SubmittedAt time.Time `json:"submitted_at"`

	Data  []SubmissionData `json:"data,omitempty" gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE"`
	Files []UploadFile     `json:"files,omitempty" gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE"`
}

func (Submission) TableName() string {
	return "submissions"
}

// DataMap 按字段名汇总提交值
func (s *Submission) DataMap() map[string]string {
	result := make(map[string]string, len(s.Data))
	for _, d := range s.Data {
		result[d.FieldName] = d.FieldValue
	}
	return result
}

// SubmissionData 提交数据，每个非文件字段一行
// 多选值以逗号拼接存储；支付字段存金额镜像（支付状态以PaymentOrder为准）
type SubmissionData struct {
	ID           string `json:"id" gorm:"primaryKey;size:32"`
	SubmissionID string `json:"submission_id" gorm:"size:32;not null;index"`
	FieldName    string `json:"field_name" gorm:"size:100;not null"`
	FieldValue   string `json:"field_value" gorm:"type:text"`
}

func (SubmissionData) TableName() string {
	return "submission_data"
}

// UploadFile 上传文件记录
// SavedFilename 独立于客户端文件名随机生成，存储时从不信任原始文件名
type UploadFile struct {
	ID               string    `json:"id" gorm:"primaryKey;size:32"`
	SubmissionID     string    `json:"submission_id" gorm:"size:32;not null;index"`
	FieldName        string    `json:"field_name" gorm:"size:100;not null"`
	OriginalFilename string    `json:"original_filename" gorm:"size:255;not null"`
	SavedFilename    string    `json:"saved_filename" gorm:"size:255;not null"`
	FileSize         int64     `json:"file_size"`
	FileType         string    `json:"file_type" gorm:"size:100"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

func (UploadFile) TableName() string {
	return "upload_files"
}
