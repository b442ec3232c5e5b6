package entity

import (
	"encoding/json"
	"time"
)

// 字段类型枚举（封闭集合，新增类型需同步扩展动态表单的解码器表）
const (
	FieldTypeText      = "text"       // 单行文本
	FieldTypeTextarea  = "textarea"   // 多行文本
	FieldTypeEmail     = "email"      // 邮箱
	FieldTypeTel       = "tel"        // 电话
	FieldTypeNumber    = "number"     // 数字
	FieldTypeDate      = "date"       // 日期
	FieldTypeSelect    = "select"     // 下拉选择
	FieldTypeRadio     = "radio"      // 单选框
	FieldTypeCheckbox  = "checkbox"   // 多选框
	FieldTypeFile      = "file"       // 文件上传
	FieldTypeWechatPay = "wechat_pay" // 微信支付
	FieldTypeAlipay    = "alipay"     // 支付宝支付
)

// IsChoiceType 选项类字段（必须携带非空选项列表）
func IsChoiceType(fieldType string) bool {
	switch fieldType {
	case FieldTypeSelect, FieldTypeRadio, FieldTypeCheckbox:
		return true
	}
	return false
}

// IsPaymentType 支付类字段（必须绑定收款账户）
func IsPaymentType(fieldType string) bool {
	return fieldType == FieldTypeWechatPay || fieldType == FieldTypeAlipay
}

// ValidFieldType 字段类型是否在封闭枚举内
func ValidFieldType(fieldType string) bool {
	switch fieldType {
	case FieldTypeText, FieldTypeTextarea, FieldTypeEmail, FieldTypeTel,
		FieldTypeNumber, FieldTypeDate, FieldTypeSelect, FieldTypeRadio,
		FieldTypeCheckbox, FieldTypeFile, FieldTypeWechatPay, FieldTypeAlipay:
		return true
	}
	return false
}

// Form 表单定义
type Form struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	Title       string    `json:"title" gorm:"size:200;not null"`
	Description string    `json:"description" gorm:"type:text"`
	IsActive    bool      `json:"is_active" gorm:"default:true"`
	// 是否允许同一用户多次填写
	AllowMultipleSubmissions bool   `json:"allow_multiple_submissions" gorm:"default:false"`
	CreatedBy                string `json:"created_by" gorm:"size:32;not null"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`

	Fields []FormField `json:"fields,omitempty" gorm:"foreignKey:FormID"`
}

func (Form) TableName() string {
	return "forms"
}

// FormField 表单字段定义，按 OrderIndex 排序
type FormField struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	FormID     string `json:"form_id" gorm:"size:32;not null;index;uniqueIndex:idx_form_field_name"`
	FieldName  string `json:"field_name" gorm:"size:100;not null;uniqueIndex:idx_form_field_name"`
	FieldLabel string `json:"field_label" gorm:"size:200;not null"`
	FieldType  string `json:"field_type" gorm:"size:50;not null"`
	// JSON数组，仅选项类字段使用
	FieldOptions string `json:"field_options" gorm:"type:text"`
	IsRequired   bool   `json:"is_required" gorm:"default:false"`
	OrderIndex   int    `json:"order_index" gorm:"default:0"`
	Placeholder  string `json:"placeholder" gorm:"size:200"`
	// 收款账户，仅支付类字段使用
	PaymentAccountID string `json:"payment_account_id" gorm:"size:32"`
}

func (FormField) TableName() string {
	return "form_fields"
}

// Options 反序列化选项列表，解析失败视为无选项
func (f *FormField) Options() []string {
	if f.FieldOptions == "" {
		return nil
	}
	var opts []string
	if err := json.Unmarshal([]byte(f.FieldOptions), &opts); err != nil {
		return nil
	}
	return opts
}

// SetOptions 序列化选项列表
func (f *FormField) SetOptions(opts []string) {
	if len(opts) == 0 {
		f.FieldOptions = ""
		return
	}
	data, _ := json.Marshal(opts)
	f.FieldOptions = string(data)
}
