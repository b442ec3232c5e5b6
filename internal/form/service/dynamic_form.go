package service

import (
	"fmt"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zouyuanqing/formpay/internal/form/entity"
)

// =============================================================================
// 动态表单构建：把字段定义列表和原始请求输入翻译成逐字段校验后的值集合。
// 类型到解码器走封闭的查表分发，新增字段类型时同步登记解码器。
// 构建阶段不做任何数据库或文件写入。
// =============================================================================

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

// 文件类字段的内置扩展名白名单，与配置的全局白名单取交集
var fileTypeExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"mp4": true, "avi": true, "mov": true,
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
}

// CombinedInput 合并后的请求输入，文本值和文件流统一按字段名寻址
type CombinedInput struct {
	Values url.Values
	Files  map[string][]*multipart.FileHeader
}

// FieldValue 单个字段的校验结果值
type FieldValue struct {
	Field entity.FormField
	// 文本类/选项类的标量值
	Text string
	// 多选值列表，持久化时以逗号拼接
	List []string
	// 支付字段金额
	Amount decimal.Decimal
	// 文件字段的文件头
	File *multipart.FileHeader
	// 值为空（可选字段未填写），持久化时跳过
	Empty bool
}

// PersistedValue 持久化形态。多选值以逗号拼接，选项值本身含逗号会产生歧义，
// 因此授权端在保存选项时拒绝含逗号的选项值。
func (v *FieldValue) PersistedValue() string {
	if len(v.List) > 0 {
		return strings.Join(v.List, ",")
	}
	return v.Text
}

// FieldErrors 字段名到错误消息的映射
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	parts := make([]string, 0, len(e))
	for name, msg := range e {
		parts = append(parts, name+": "+msg)
	}
	return "表单校验失败: " + strings.Join(parts, "; ")
}

// FormBuilder 动态表单构建器
type FormBuilder struct {
	// 全局允许的上传扩展名（小写，不含点）
	allowedExtensions map[string]bool
}

// NewFormBuilder 创建表单构建器
func NewFormBuilder(allowedExtensions []string) *FormBuilder {
	allowed := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &FormBuilder{allowedExtensions: allowed}
}

type decoder func(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string)

// 类型到解码器的分发表
var decoders = map[string]decoder{
	entity.FieldTypeText:      decodeText,
	entity.FieldTypeTextarea:  decodeText,
	entity.FieldTypeEmail:     decodeEmail,
	entity.FieldTypeTel:       decodeTel,
	entity.FieldTypeNumber:    decodeNumber,
	entity.FieldTypeDate:      decodeDate,
	entity.FieldTypeSelect:    decodeChoice,
	entity.FieldTypeRadio:     decodeChoice,
	entity.FieldTypeCheckbox:  decodeMultiChoice,
	entity.FieldTypeFile:      decodeFile,
	entity.FieldTypeWechatPay: decodePayment,
	entity.FieldTypeAlipay:    decodePayment,
}

// Build 按字段定义顺序校验全部输入。
// 一次遍历收集所有字段错误，不在首错短路，调用方可整体回显。
func (b *FormBuilder) Build(fields []entity.FormField, input *CombinedInput) ([]FieldValue, FieldErrors) {
	values := make([]FieldValue, 0, len(fields))
	errs := make(FieldErrors)

	for _, field := range fields {
		dec, ok := decoders[field.FieldType]
		if !ok {
			errs[field.FieldName] = fmt.Sprintf("不支持的字段类型: %s", field.FieldType)
			continue
		}

		value, msg := dec(b, field, input)
		if msg != "" {
			errs[field.FieldName] = msg
			continue
		}

		// 统一的必填检查在类型解码之后
		if field.IsRequired && value.Empty {
			errs[field.FieldName] = fmt.Sprintf("%s为必填项", field.FieldLabel)
			continue
		}

		values = append(values, *value)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return values, nil
}

func rawValue(field entity.FormField, input *CombinedInput) string {
	return strings.TrimSpace(input.Values.Get(field.FieldName))
}

func decodeText(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	raw := rawValue(field, input)
	return &FieldValue{Field: field, Text: raw, Empty: raw == ""}, ""
}

func decodeEmail(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	raw := rawValue(field, input)
	if raw != "" && !emailPattern.MatchString(raw) {
		return nil, "邮箱格式不正确"
	}
	return &FieldValue{Field: field, Text: raw, Empty: raw == ""}, ""
}

func decodeTel(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	raw := rawValue(field, input)
	if raw != "" && !phonePattern.MatchString(raw) {
		return nil, "手机号格式不正确"
	}
	return &FieldValue{Field: field, Text: raw, Empty: raw == ""}, ""
}

func decodeNumber(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	raw := rawValue(field, input)
	if raw == "" {
		return &FieldValue{Field: field, Empty: true}, ""
	}
	if _, err := strconv.Atoi(raw); err != nil {
		return nil, "请输入有效的整数"
	}
	return &FieldValue{Field: field, Text: raw}, ""
}

func decodeDate(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	raw := rawValue(field, input)
	if raw == "" {
		return &FieldValue{Field: field, Empty: true}, ""
	}
	if _, err := time.Parse("2006-01-02", raw); err != nil {
		return nil, "日期格式不正确"
	}
	return &FieldValue{Field: field, Text: raw}, ""
}

// decodeChoice 下拉/单选：值必须在声明的选项内。
// 空值仅表示未选择（下拉的占位项），必填检查由统一逻辑处理。
func decodeChoice(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	raw := rawValue(field, input)
	if raw == "" {
		return &FieldValue{Field: field, Empty: true}, ""
	}
	if !containsOption(field.Options(), raw) {
		return nil, "选项不在允许范围内"
	}
	return &FieldValue{Field: field, Text: raw}, ""
}

func decodeMultiChoice(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	raws := input.Values[field.FieldName]
	selected := make([]string, 0, len(raws))
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !containsOption(field.Options(), raw) {
			return nil, "选项不在允许范围内"
		}
		selected = append(selected, raw)
	}
	if len(selected) == 0 {
		return &FieldValue{Field: field, Empty: true}, ""
	}
	return &FieldValue{Field: field, List: selected}, ""
}

func decodeFile(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	files := input.Files[field.FieldName]
	if len(files) == 0 || files[0].Filename == "" {
		return &FieldValue{Field: field, Empty: true}, ""
	}

	fh := files[0]
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
	if ext == "" || !fileTypeExtensions[ext] || !b.allowedExtensions[ext] {
		return nil, "不支持的文件类型"
	}
	return &FieldValue{Field: field, File: fh}, ""
}

// decodePayment 支付字段：必填不可跳过，金额必须为正的定点数。
func decodePayment(b *FormBuilder, field entity.FormField, input *CombinedInput) (*FieldValue, string) {
	raw := rawValue(field, input)
	if raw == "" {
		return nil, "请输入支付金额"
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, "金额格式不正确"
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, "金额必须大于0"
	}
	return &FieldValue{Field: field, Text: amount.StringFixed(2), Amount: amount}, ""
}

func containsOption(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}
