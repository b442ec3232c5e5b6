package service

import (
	"net/url"
	"testing"

	"github.com/zouyuanqing/formpay/internal/form/entity"
)

func testBuilder() *FormBuilder {
	return NewFormBuilder([]string{"jpg", "png", "pdf"})
}

func textField(name string, required bool) entity.FormField {
	return entity.FormField{
		FieldName:  name,
		FieldLabel: name,
		FieldType:  entity.FieldTypeText,
		IsRequired: required,
	}
}

func choiceField(name, fieldType string, required bool, options []string) entity.FormField {
	f := entity.FormField{
		FieldName:  name,
		FieldLabel: name,
		FieldType:  fieldType,
		IsRequired: required,
	}
	f.SetOptions(options)
	return f
}

func paymentField(name string) entity.FormField {
	return entity.FormField{
		FieldName:        name,
		FieldLabel:       name,
		FieldType:        entity.FieldTypeAlipay,
		IsRequired:       true,
		PaymentAccountID: "acct-001",
	}
}

func TestBuildRequiredAndOptionalText(t *testing.T) {
	b := testBuilder()
	fields := []entity.FormField{
		textField("name", true),
		textField("remark", false),
	}
	input := &CombinedInput{Values: url.Values{"name": {"李伟"}}}

	values, errs := b.Build(fields, input)
	if errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(values))
	}
	if values[0].Text != "李伟" {
		t.Errorf("expected name=李伟, got %q", values[0].Text)
	}
	if !values[1].Empty {
		t.Errorf("optional empty field should be marked empty")
	}
}

func TestBuildAccumulatesAllErrors(t *testing.T) {
	b := testBuilder()
	fields := []entity.FormField{
		textField("name", true),
		{FieldName: "email", FieldLabel: "email", FieldType: entity.FieldTypeEmail},
		{FieldName: "age", FieldLabel: "age", FieldType: entity.FieldTypeNumber},
		paymentField("fee"),
	}
	input := &CombinedInput{Values: url.Values{
		"email": {"not-an-email"},
		"age":   {"abc"},
		"fee":   {"0"},
	}}

	_, errs := b.Build(fields, input)
	if errs == nil {
		t.Fatal("expected validation errors")
	}
	// 四个字段的错误应一次性全部返回
	for _, name := range []string{"name", "email", "age", "fee"} {
		if _, ok := errs[name]; !ok {
			t.Errorf("expected error for field %q, got %v", name, errs)
		}
	}
}

func TestBuildEmailAndPhone(t *testing.T) {
	b := testBuilder()
	fields := []entity.FormField{
		{FieldName: "email", FieldLabel: "email", FieldType: entity.FieldTypeEmail},
		{FieldName: "phone", FieldLabel: "phone", FieldType: entity.FieldTypeTel},
	}
	input := &CombinedInput{Values: url.Values{
		"email": {"user@example.com"},
		"phone": {"13812345678"},
	}}

	values, errs := b.Build(fields, input)
	if errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if values[0].Text != "user@example.com" || values[1].Text != "13812345678" {
		t.Errorf("unexpected values: %+v", values)
	}

	input = &CombinedInput{Values: url.Values{"phone": {"12345"}}}
	_, errs = b.Build(fields, input)
	if _, ok := errs["phone"]; !ok {
		t.Errorf("expected phone format error, got %v", errs)
	}
}

func TestBuildChoiceMembership(t *testing.T) {
	b := testBuilder()
	fields := []entity.FormField{
		choiceField("city", entity.FieldTypeSelect, false, []string{"北京", "上海"}),
	}

	input := &CombinedInput{Values: url.Values{"city": {"广州"}}}
	_, errs := b.Build(fields, input)
	if _, ok := errs["city"]; !ok {
		t.Errorf("expected membership error, got %v", errs)
	}

	// 下拉的空占位项表示未选择，非必填时合法
	input = &CombinedInput{Values: url.Values{"city": {""}}}
	values, errs := b.Build(fields, input)
	if errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !values[0].Empty {
		t.Errorf("empty select should be marked empty")
	}
}

func TestBuildMultiSelectJoin(t *testing.T) {
	b := testBuilder()
	fields := []entity.FormField{
		choiceField("tags", entity.FieldTypeCheckbox, true, []string{"A", "B", "C"}),
	}
	input := &CombinedInput{Values: url.Values{"tags": {"A", "C"}}}

	values, errs := b.Build(fields, input)
	if errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got := values[0].PersistedValue(); got != "A,C" {
		t.Errorf("expected persisted value A,C got %q", got)
	}

	// 必填多选不允许空列表
	input = &CombinedInput{Values: url.Values{}}
	_, errs = b.Build(fields, input)
	if _, ok := errs["tags"]; !ok {
		t.Errorf("expected required error for empty multi-select, got %v", errs)
	}
}

func TestBuildPaymentAmount(t *testing.T) {
	b := testBuilder()
	fields := []entity.FormField{paymentField("fee")}

	cases := []struct {
		raw    string
		wantOK bool
	}{
		{"50.00", true},
		{"0.01", true},
		{"0", false},
		{"-1", false},
		{"abc", false},
		{"", false},
	}
	for _, tc := range cases {
		input := &CombinedInput{Values: url.Values{"fee": {tc.raw}}}
		values, errs := b.Build(fields, input)
		if tc.wantOK {
			if errs != nil {
				t.Errorf("amount %q: unexpected errors %v", tc.raw, errs)
				continue
			}
			if values[0].Amount.IsZero() {
				t.Errorf("amount %q: decoded amount should be non-zero", tc.raw)
			}
		} else if errs == nil {
			t.Errorf("amount %q: expected validation error", tc.raw)
		}
	}
}

func TestBuildPaymentAmountNormalized(t *testing.T) {
	b := testBuilder()
	fields := []entity.FormField{paymentField("fee")}
	input := &CombinedInput{Values: url.Values{"fee": {"50"}}}

	values, errs := b.Build(fields, input)
	if errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if values[0].Text != "50.00" {
		t.Errorf("expected display mirror 50.00, got %q", values[0].Text)
	}
}

func TestBuildUnknownFieldType(t *testing.T) {
	b := testBuilder()
	fields := []entity.FormField{
		{FieldName: "x", FieldLabel: "x", FieldType: "mystery"},
	}
	_, errs := b.Build(fields, &CombinedInput{Values: url.Values{}})
	if _, ok := errs["x"]; !ok {
		t.Errorf("expected error for unknown field type, got %v", errs)
	}
}
