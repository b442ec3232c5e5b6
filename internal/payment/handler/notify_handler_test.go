package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/zouyuanqing/formpay/internal/form/testutil"
	"github.com/zouyuanqing/formpay/internal/payment/entity"
	"github.com/zouyuanqing/formpay/internal/payment/repository"
	"github.com/zouyuanqing/formpay/internal/payment/service"
	"github.com/zouyuanqing/formpay/internal/shared/gateway"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubGateway 回调验签替身，按预置的通知内容应答
type stubGateway struct {
	orderNo    string
	status     string
	tradeNo    string
	verifyFail bool
}

func (s *stubGateway) CreateIntent(ctx context.Context, orderNo string, amount decimal.Decimal, description string) (*gateway.IntentResult, error) {
	return &gateway.IntentResult{Success: true, QRPayload: "stub://" + orderNo}, nil
}

func (s *stubGateway) QueryStatus(ctx context.Context, orderNo string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{Success: true, ProviderStatus: "NOTPAY"}, nil
}

func (s *stubGateway) VerifyNotification(body []byte) (*gateway.Notification, error) {
	if s.verifyFail {
		return nil, gateway.ErrNotConfigured
	}
	return &gateway.Notification{
		OrderNo:        s.orderNo,
		ProviderStatus: s.status,
		TradeNo:        s.tradeNo,
	}, nil
}

func (s *stubGateway) StatusPaid(providerStatus string) bool { return providerStatus == "SUCCESS" }
func (s *stubGateway) AckSuccess() string {
	return "<xml><return_code><![CDATA[SUCCESS]]></return_code></xml>"
}
func (s *stubGateway) AckFailure() string {
	return "<xml><return_code><![CDATA[FAIL]]></return_code></xml>"
}
func (s *stubGateway) AckContentType() string { return "text/xml" }

func setupNotifyTest(t *testing.T) (*gorm.DB, *service.OrderService, *stubGateway, *testutil.TestEnv) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()

	stub := &stubGateway{}
	repos := repository.NewRepositories(db)
	orderSvc := service.NewOrderService(repos, map[string]gateway.Gateway{
		entity.PaymentTypeWechat: stub,
	}, nil, zap.NewNop())

	handlers := NewHandlers(orderSvc, service.NewAccountService(repos.Account), zap.NewNop())
	// 回调端点不挂鉴权中间件
	router.POST("/api/v1/payments/notify/wechat", handlers.Notify.WechatNotify)

	return db, orderSvc, stub, &testutil.TestEnv{DB: db, Router: router, T: t}
}

func seedNotifyOrder(t *testing.T, db *gorm.DB, svc *service.OrderService) *entity.PaymentOrder {
	t.Helper()
	var order *entity.PaymentOrder
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = svc.CreateOrderTx(context.Background(), tx, "sub-001", "fee",
			entity.PaymentTypeWechat, decimal.NewFromFloat(88.00), "acct-001")
		return err
	})
	if err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
	return order
}

func postNotify(env *testutil.TestEnv, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", "/api/v1/payments/notify/wechat", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/xml")
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	return w
}

func TestNotifyConfirmsOrder(t *testing.T) {
	db, svc, stub, env := setupNotifyTest(t)
	order := seedNotifyOrder(t, db, svc)

	stub.orderNo = order.OrderNo
	stub.status = "SUCCESS"
	stub.tradeNo = "WX-T-001"

	w := postNotify(env, "<xml>payload</xml>")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<![CDATA[SUCCESS]]>") {
		t.Errorf("expected success ack, got %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("ack content type must be text/xml, got %q", ct)
	}

	reloaded, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if reloaded.Status != entity.OrderStatusPaid {
		t.Errorf("expected paid after callback, got %s", reloaded.Status)
	}
	if reloaded.TradeNo != "WX-T-001" {
		t.Errorf("trade no not recorded: %+v", reloaded)
	}
}

func TestNotifyUnknownOrderAcksFailure(t *testing.T) {
	_, _, stub, env := setupNotifyTest(t)

	stub.orderNo = "PAY-NO-SUCH"
	stub.status = "SUCCESS"

	w := postNotify(env, "<xml>payload</xml>")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<![CDATA[FAIL]]>") {
		t.Errorf("unknown order must ack failure, got %q", w.Body.String())
	}
}

func TestNotifyBadSignatureAcksFailureWithoutMutation(t *testing.T) {
	db, svc, stub, env := setupNotifyTest(t)
	order := seedNotifyOrder(t, db, svc)

	stub.orderNo = order.OrderNo
	stub.status = "SUCCESS"
	stub.verifyFail = true

	w := postNotify(env, "<xml>payload</xml>")
	if !strings.Contains(w.Body.String(), "<![CDATA[FAIL]]>") {
		t.Errorf("unverified callback must ack failure, got %q", w.Body.String())
	}

	reloaded, _ := svc.Get(context.Background(), order.ID)
	if reloaded.Status != entity.OrderStatusPending {
		t.Errorf("unverified callback must not change state, got %s", reloaded.Status)
	}
}

func TestNotifyUnknownChannel(t *testing.T) {
	_, _, _, env := setupNotifyTest(t)

	// 未配置的渠道路由不存在
	req, _ := http.NewRequest("POST", "/api/v1/payments/notify/nonexistent", strings.NewReader("x"))
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown channel route, got %d", w.Code)
	}
}
