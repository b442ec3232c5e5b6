package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/zouyuanqing/formpay/internal/config"
	"github.com/zouyuanqing/formpay/internal/form/entity"
	formrepo "github.com/zouyuanqing/formpay/internal/form/repository"
	"github.com/zouyuanqing/formpay/internal/form/service"
	"github.com/zouyuanqing/formpay/internal/form/testutil"
	payentity "github.com/zouyuanqing/formpay/internal/payment/entity"
	payrepo "github.com/zouyuanqing/formpay/internal/payment/repository"
	paysvc "github.com/zouyuanqing/formpay/internal/payment/service"
	"github.com/zouyuanqing/formpay/internal/shared/gateway"
	"github.com/zouyuanqing/formpay/internal/shared/redislock"
	"go.uber.org/zap"
)

func setupSubmissionTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	env, _ := setupSubmissionTestMaxUpload(t, 1<<20)
	return env
}

// setupSubmissionTestMaxUpload 按给定的上传大小上限搭建环境，返回上传目录供断言
func setupSubmissionTestMaxUpload(t *testing.T, maxUpload int64) (*testutil.TestEnv, string) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	cfg := &config.Config{}
	cfg.Upload.Dir = t.TempDir()
	cfg.Upload.MaxSize = maxUpload
	cfg.Upload.AllowedExtensions = []string{"jpg", "png", "pdf"}
	cfg.JWT.Secret = testutil.JWTSecret
	cfg.JWT.Issuer = "formpay-test"
	cfg.JWT.AccessTokenExpire = 24 * time.Hour

	store, err := service.NewLocalStore(cfg.Upload.Dir, cfg.Upload.MaxSize)
	if err != nil {
		t.Fatalf("init store failed: %v", err)
	}

	payRepos := payrepo.NewRepositories(db)
	orderSvc := paysvc.NewOrderService(payRepos, map[string]gateway.Gateway{
		payentity.PaymentTypeAlipay: gateway.Disabled{},
	}, nil, zap.NewNop())

	formRepos := formrepo.NewRepositories(db)
	services := service.NewServices(db, formRepos, payRepos, orderSvc, store,
		redislock.NewLocker(nil), cfg, zap.NewNop())
	handlers := NewHandlers(services, store)

	api := testutil.AuthGroup(router, "/api/v1")
	api.POST("/forms/:id/submissions", handlers.Submission.Submit)
	api.GET("/submissions/:id", handlers.Submission.Get)

	admin := testutil.AdminGroup(router, "/api/v1/admin")
	admin.DELETE("/submissions/:id", handlers.Submission.Delete)
	admin.POST("/database/clear", handlers.Submission.ClearData)

	return &testutil.TestEnv{DB: db, Router: router, T: t}, cfg.Upload.Dir
}

func seedSimpleForm(t *testing.T, env *testutil.TestEnv, allowMultiple bool) *entity.Form {
	t.Helper()
	testutil.SeedTestAccount(t, env.DB, "acct-001")

	nameField := entity.FormField{
		ID: "fld-name", FormID: "form-001", FieldName: "name",
		FieldLabel: "姓名", FieldType: entity.FieldTypeText,
		IsRequired: true, OrderIndex: 0,
	}
	feeField := entity.FormField{
		ID: "fld-fee", FormID: "form-001", FieldName: "fee",
		FieldLabel: "报名费", FieldType: entity.FieldTypeAlipay,
		IsRequired: true, OrderIndex: 1, PaymentAccountID: "acct-001",
	}
	return testutil.SeedTestForm(t, env.DB, "form-001", allowMultiple,
		[]entity.FormField{nameField, feeField})
}

func TestSubmitCreatesSubmissionAndOrder(t *testing.T) {
	env := setupSubmissionTest(t)
	seedSimpleForm(t, env, true)
	token := testutil.UserToken("user-001")

	form := url.Values{"name": {"李伟"}, "fee": {"50.00"}}
	w := testutil.DoFormRequest(env.Router, "POST",
		"/api/v1/forms/form-001/submissions", form.Encode(), token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	submissionID := data["submission_id"].(string)
	orderIDs := data["order_ids"].([]interface{})
	if len(orderIDs) != 1 {
		t.Fatalf("expected exactly one order, got %v", orderIDs)
	}

	// 提交头 + 两行数据（姓名 + 金额镜像）
	var dataCount int64
	env.DB.Table("submission_data").Where("submission_id = ?", submissionID).Count(&dataCount)
	if dataCount != 2 {
		t.Errorf("expected 2 data rows, got %d", dataCount)
	}

	var order payentity.PaymentOrder
	if err := env.DB.Where("submission_id = ?", submissionID).First(&order).Error; err != nil {
		t.Fatalf("order not found: %v", err)
	}
	if order.Status != payentity.OrderStatusPending {
		t.Errorf("new order must be pending, got %s", order.Status)
	}
	if order.Amount.StringFixed(2) != "50.00" {
		t.Errorf("expected amount 50.00, got %s", order.Amount)
	}
	if order.PaymentAccountID != "acct-001" {
		t.Errorf("order must carry the field's payout account")
	}
}

func TestSubmitValidationFailureWritesNothing(t *testing.T) {
	env := setupSubmissionTest(t)
	seedSimpleForm(t, env, true)
	token := testutil.UserToken("user-001")

	// 姓名缺失 + 金额为0：两个字段错误都要返回，且不落任何行
	form := url.Values{"fee": {"0"}}
	w := testutil.DoFormRequest(env.Router, "POST",
		"/api/v1/forms/form-001/submissions", form.Encode(), token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	resp := testutil.ParseResponse(w)
	fieldErrs := resp["errors"].(map[string]interface{})
	if _, ok := fieldErrs["name"]; !ok {
		t.Errorf("expected error for name, got %v", fieldErrs)
	}
	if _, ok := fieldErrs["fee"]; !ok {
		t.Errorf("expected error for fee, got %v", fieldErrs)
	}

	var count int64
	env.DB.Table("submissions").Count(&count)
	if count != 0 {
		t.Errorf("failed validation must not create a submission")
	}
	env.DB.Table("payment_orders").Count(&count)
	if count != 0 {
		t.Errorf("failed validation must not create an order")
	}
}

func TestSubmitDuplicateGuard(t *testing.T) {
	env := setupSubmissionTest(t)
	seedSimpleForm(t, env, false)
	token := testutil.UserToken("user-001")

	form := url.Values{"name": {"李伟"}, "fee": {"50.00"}}
	w := testutil.DoFormRequest(env.Router, "POST",
		"/api/v1/forms/form-001/submissions", form.Encode(), token)
	if w.Code != http.StatusCreated {
		t.Fatalf("first submit failed: %d %s", w.Code, w.Body.String())
	}

	w = testutil.DoFormRequest(env.Router, "POST",
		"/api/v1/forms/form-001/submissions", form.Encode(), token)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate submit, got %d", w.Code)
	}

	// 其他用户不受影响
	w = testutil.DoFormRequest(env.Router, "POST",
		"/api/v1/forms/form-001/submissions", form.Encode(), testutil.UserToken("user-002"))
	if w.Code != http.StatusCreated {
		t.Errorf("another user's submit should succeed, got %d", w.Code)
	}
}

func TestSubmitResubmissionCreatesIndependentOrders(t *testing.T) {
	env := setupSubmissionTest(t)
	seedSimpleForm(t, env, true)
	token := testutil.UserToken("user-001")

	form := url.Values{"name": {"李伟"}, "fee": {"50.00"}}
	for i := 0; i < 2; i++ {
		w := testutil.DoFormRequest(env.Router, "POST",
			"/api/v1/forms/form-001/submissions", form.Encode(), token)
		if w.Code != http.StatusCreated {
			t.Fatalf("submit %d failed: %d %s", i, w.Code, w.Body.String())
		}
	}

	var orders []payentity.PaymentOrder
	env.DB.Find(&orders)
	if len(orders) != 2 {
		t.Fatalf("expected 2 independent orders, got %d", len(orders))
	}
	if orders[0].OrderNo == orders[1].OrderNo {
		t.Errorf("orders must have distinct order numbers")
	}
}

func TestSubmitInactiveForm(t *testing.T) {
	env := setupSubmissionTest(t)
	form := seedSimpleForm(t, env, true)
	env.DB.Model(form).Update("is_active", false)

	w := testutil.DoFormRequest(env.Router, "POST",
		"/api/v1/forms/form-001/submissions",
		url.Values{"name": {"李伟"}, "fee": {"50.00"}}.Encode(),
		testutil.UserToken("user-001"))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for inactive form, got %d", w.Code)
	}
}

func TestSubmitFileFailureRollsBackEverything(t *testing.T) {
	env, uploadDir := setupSubmissionTestMaxUpload(t, 8)

	photoField := entity.FormField{
		ID: "fld-photo", FormID: "form-001", FieldName: "photo",
		FieldLabel: "照片", FieldType: entity.FieldTypeFile,
		IsRequired: true, OrderIndex: 0,
	}
	docField := entity.FormField{
		ID: "fld-doc", FormID: "form-001", FieldName: "doc",
		FieldLabel: "附件", FieldType: entity.FieldTypeFile,
		IsRequired: true, OrderIndex: 1,
	}
	testutil.SeedTestForm(t, env.DB, "form-001", true,
		[]entity.FormField{photoField, docField})

	// 第一个文件合法，第二个超过大小上限，保存在第二个文件处失败
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("photo", "a.jpg")
	if err != nil {
		t.Fatalf("build multipart failed: %v", err)
	}
	fw.Write([]byte("1234"))
	fw, err = mw.CreateFormFile("doc", "b.pdf")
	if err != nil {
		t.Fatalf("build multipart failed: %v", err)
	}
	fw.Write(bytes.Repeat([]byte("x"), 64))
	mw.Close()

	req, _ := http.NewRequest("POST", "/api/v1/forms/form-001/submissions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testutil.UserToken("user-001"))
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on file failure, got %d: %s", w.Code, w.Body.String())
	}

	// 任何行都不能留下
	for _, table := range []string{"submissions", "submission_data", "upload_files"} {
		var count int64
		env.DB.Table(table).Count(&count)
		if count != 0 {
			t.Errorf("failed submit must leave %s empty, got %d rows", table, count)
		}
	}

	// 第一个已落盘的文件也要被清掉
	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		t.Fatalf("read upload dir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("failed submit must remove saved files, %d left on disk", len(entries))
	}
}

func TestAdminDeleteSubmissionCascades(t *testing.T) {
	env := setupSubmissionTest(t)
	seedSimpleForm(t, env, true)

	w := testutil.DoFormRequest(env.Router, "POST",
		"/api/v1/forms/form-001/submissions",
		url.Values{"name": {"李伟"}, "fee": {"50.00"}}.Encode(),
		testutil.UserToken("user-001"))
	if w.Code != http.StatusCreated {
		t.Fatalf("submit failed: %d %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	submissionID := resp["data"].(map[string]interface{})["submission_id"].(string)

	// 普通用户无权删除
	w = testutil.DoRequest(env.Router, "DELETE",
		"/api/v1/admin/submissions/"+submissionID, nil, testutil.UserToken("user-001"))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin delete, got %d", w.Code)
	}

	w = testutil.DoRequest(env.Router, "DELETE",
		"/api/v1/admin/submissions/"+submissionID, nil, testutil.AdminToken())
	if w.Code != http.StatusOK {
		t.Fatalf("admin delete failed: %d %s", w.Code, w.Body.String())
	}

	// 提交头、数据行、支付订单都要随之消失
	for _, table := range []string{"submissions", "submission_data", "payment_orders"} {
		var count int64
		env.DB.Table(table).Count(&count)
		if count != 0 {
			t.Errorf("delete must cascade to %s, got %d rows", table, count)
		}
	}

	// 已删除的提交再删一次是404
	w = testutil.DoRequest(env.Router, "DELETE",
		"/api/v1/admin/submissions/"+submissionID, nil, testutil.AdminToken())
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing submission, got %d", w.Code)
	}
}

func TestAdminClearData(t *testing.T) {
	env := setupSubmissionTest(t)
	seedSimpleForm(t, env, true)

	form := url.Values{"name": {"李伟"}, "fee": {"50.00"}}
	for i := 0; i < 2; i++ {
		w := testutil.DoFormRequest(env.Router, "POST",
			"/api/v1/forms/form-001/submissions", form.Encode(),
			testutil.UserToken("user-001"))
		if w.Code != http.StatusCreated {
			t.Fatalf("submit %d failed: %d %s", i, w.Code, w.Body.String())
		}
	}

	// 普通用户无权清库
	w := testutil.DoRequest(env.Router, "POST",
		"/api/v1/admin/database/clear", nil, testutil.UserToken("user-001"))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin clear, got %d", w.Code)
	}
	var count int64
	env.DB.Table("submissions").Count(&count)
	if count != 2 {
		t.Fatalf("denied clear must not touch data, got %d submissions", count)
	}

	w = testutil.DoRequest(env.Router, "POST",
		"/api/v1/admin/database/clear", nil, testutil.AdminToken())
	if w.Code != http.StatusOK {
		t.Fatalf("clear failed: %d %s", w.Code, w.Body.String())
	}

	for _, table := range []string{"submissions", "submission_data", "upload_files", "payment_orders"} {
		env.DB.Table(table).Count(&count)
		if count != 0 {
			t.Errorf("clear must empty %s, got %d rows", table, count)
		}
	}

	// 表单定义和收款账户保留
	env.DB.Table("forms").Count(&count)
	if count != 1 {
		t.Errorf("clear must keep form definitions, got %d", count)
	}
	env.DB.Table("payment_accounts").Count(&count)
	if count != 1 {
		t.Errorf("clear must keep payout accounts, got %d", count)
	}
}

func TestGetSubmissionOwnership(t *testing.T) {
	env := setupSubmissionTest(t)
	seedSimpleForm(t, env, true)

	w := testutil.DoFormRequest(env.Router, "POST",
		"/api/v1/forms/form-001/submissions",
		url.Values{"name": {"李伟"}, "fee": {"50.00"}}.Encode(),
		testutil.UserToken("user-001"))
	if w.Code != http.StatusCreated {
		t.Fatalf("submit failed: %d", w.Code)
	}
	resp := testutil.ParseResponse(w)
	submissionID := resp["data"].(map[string]interface{})["submission_id"].(string)

	// 本人可见
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/submissions/"+submissionID, nil,
		testutil.UserToken("user-001"))
	if w.Code != http.StatusOK {
		t.Errorf("owner should read own submission, got %d", w.Code)
	}

	// 他人不可见
	w = testutil.DoRequest(env.Router, "GET", "/api/v1/submissions/"+submissionID, nil,
		testutil.UserToken("user-002"))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another user, got %d", w.Code)
	}
}
