package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zouyuanqing/formpay/internal/form/testutil"
	"github.com/zouyuanqing/formpay/internal/payment/entity"
	"github.com/zouyuanqing/formpay/internal/payment/repository"
	"github.com/zouyuanqing/formpay/internal/shared/gateway"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeGateway 可编程的网关替身
type fakeGateway struct {
	intentOK     bool
	intentTrade  string
	queryStatus  string
	queryTrade   string
	notifOrderNo string
	notifStatus  string
	notifTrade   string
	verifyFail   bool
	createCalls  int
}

func (f *fakeGateway) CreateIntent(ctx context.Context, orderNo string, amount decimal.Decimal, description string) (*gateway.IntentResult, error) {
	f.createCalls++
	return &gateway.IntentResult{
		Success:   f.intentOK,
		TradeNo:   f.intentTrade,
		QRPayload: "fake://pay/" + orderNo,
		Message:   "denied",
		Raw:       map[string]interface{}{"order_no": orderNo},
	}, nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, orderNo string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{
		Success:        true,
		ProviderStatus: f.queryStatus,
		TradeNo:        f.queryTrade,
		Raw:            map[string]interface{}{"queried": orderNo},
	}, nil
}

func (f *fakeGateway) VerifyNotification(body []byte) (*gateway.Notification, error) {
	if f.verifyFail {
		return nil, gateway.ErrNotConfigured
	}
	return &gateway.Notification{
		OrderNo:        f.notifOrderNo,
		ProviderStatus: f.notifStatus,
		TradeNo:        f.notifTrade,
		Raw:            map[string]interface{}{"raw": "payload"},
	}, nil
}

func (f *fakeGateway) StatusPaid(providerStatus string) bool { return providerStatus == "SUCCESS" }
func (f *fakeGateway) AckSuccess() string                    { return "OK" }
func (f *fakeGateway) AckFailure() string                    { return "NO" }
func (f *fakeGateway) AckContentType() string                { return "text/plain" }

func setupOrderTest(t *testing.T) (*gorm.DB, *OrderService, *fakeGateway) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	fake := &fakeGateway{intentOK: true}
	repos := repository.NewRepositories(db)
	svc := NewOrderService(repos, map[string]gateway.Gateway{
		entity.PaymentTypeAlipay: fake,
	}, nil, zap.NewNop())
	return db, svc, fake
}

func createTestOrder(t *testing.T, db *gorm.DB, svc *OrderService) *entity.PaymentOrder {
	t.Helper()
	ctx := context.Background()
	var order *entity.PaymentOrder
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = svc.CreateOrderTx(ctx, tx, "sub-001", "fee",
			entity.PaymentTypeAlipay, decimal.NewFromFloat(50.00), "acct-001")
		return err
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	db, svc, _ := setupOrderTest(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.CreateOrderTx(ctx, tx, "sub-001", "fee",
			entity.PaymentTypeAlipay, decimal.Zero, "acct-001")
		return err
	})
	if err == nil {
		t.Fatal("expected rejection of zero amount")
	}
}

func TestInitiateTransition(t *testing.T) {
	db, svc, fake := setupOrderTest(t)
	ctx := context.Background()
	order := createTestOrder(t, db, svc)

	if order.Status != entity.OrderStatusPending {
		t.Fatalf("new order should be pending, got %s", order.Status)
	}

	fake.intentTrade = "T-INIT-1"
	result, err := svc.Initiate(ctx, order.ID)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if result.Order.Status != entity.OrderStatusProcessing {
		t.Errorf("expected processing, got %s", result.Order.Status)
	}
	if result.Order.TradeNo != "T-INIT-1" {
		t.Errorf("trade no not attached: %+v", result.Order)
	}
	if result.QRPayload == "" {
		t.Errorf("expected qr payload")
	}

	// 二次发起必须被状态守卫拒绝，且不再触达网关
	calls := fake.createCalls
	if _, err := svc.Initiate(ctx, order.ID); err != ErrOrderStateInvalid {
		t.Errorf("expected ErrOrderStateInvalid, got %v", err)
	}
	if fake.createCalls != calls {
		t.Errorf("second initiate must not create another gateway intent")
	}
}

func TestInitiateGatewayFailureKeepsPending(t *testing.T) {
	db, svc, fake := setupOrderTest(t)
	ctx := context.Background()
	order := createTestOrder(t, db, svc)

	fake.intentOK = false
	if _, err := svc.Initiate(ctx, order.ID); err == nil {
		t.Fatal("expected gateway failure to surface")
	}

	reloaded, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if reloaded.Status != entity.OrderStatusPending {
		t.Errorf("gateway failure must leave order pending, got %s", reloaded.Status)
	}

	// 留在pending的订单可以重试
	fake.intentOK = true
	if _, err := svc.Initiate(ctx, order.ID); err != nil {
		t.Errorf("retry after gateway failure should succeed: %v", err)
	}
}

func TestCallbackConfirmAndDuplicate(t *testing.T) {
	db, svc, fake := setupOrderTest(t)
	ctx := context.Background()
	order := createTestOrder(t, db, svc)

	fake.notifOrderNo = order.OrderNo
	fake.notifStatus = "SUCCESS"
	fake.notifTrade = "T-CB-1"

	ack, _ := svc.HandleNotification(ctx, entity.PaymentTypeAlipay, []byte("payload"))
	if ack != "OK" {
		t.Fatalf("expected success ack, got %q", ack)
	}

	paid, _ := svc.Get(ctx, order.ID)
	if paid.Status != entity.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
	if paid.TradeNo != "T-CB-1" {
		t.Errorf("trade no not recorded: %+v", paid)
	}
	if paid.PaidAt == nil {
		t.Errorf("paid_at must be set on confirmation")
	}

	// 重复回调：无害重复，应答成功，状态不变
	fake.notifTrade = "T-CB-2"
	ack, _ = svc.HandleNotification(ctx, entity.PaymentTypeAlipay, []byte("payload"))
	if ack != "OK" {
		t.Errorf("duplicate callback must still ack success, got %q", ack)
	}
	again, _ := svc.Get(ctx, order.ID)
	if again.TradeNo != "T-CB-1" || !again.PaidAt.Equal(*paid.PaidAt) {
		t.Errorf("duplicate callback must not mutate the order: %+v", again)
	}
}

func TestCallbackVerifyFailureNeverMutates(t *testing.T) {
	db, svc, fake := setupOrderTest(t)
	ctx := context.Background()
	order := createTestOrder(t, db, svc)

	fake.verifyFail = true
	fake.notifOrderNo = order.OrderNo
	fake.notifStatus = "SUCCESS"

	ack, _ := svc.HandleNotification(ctx, entity.PaymentTypeAlipay, []byte("payload"))
	if ack != "NO" {
		t.Errorf("unverified callback must ack failure, got %q", ack)
	}
	reloaded, _ := svc.Get(ctx, order.ID)
	if reloaded.Status != entity.OrderStatusPending {
		t.Errorf("unverified callback must not change state, got %s", reloaded.Status)
	}
}

func TestPollConfirm(t *testing.T) {
	db, svc, fake := setupOrderTest(t)
	ctx := context.Background()
	order := createTestOrder(t, db, svc)

	fake.queryStatus = "WAIT_BUYER_PAY"
	polled, err := svc.Poll(ctx, order.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if polled.Status != entity.OrderStatusPending {
		t.Errorf("non-paid provider status must not transition, got %s", polled.Status)
	}

	fake.queryStatus = "SUCCESS"
	fake.queryTrade = "T-POLL-1"
	polled, err = svc.Poll(ctx, order.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if polled.Status != entity.OrderStatusPaid || polled.TradeNo != "T-POLL-1" {
		t.Errorf("expected paid with trade no, got %+v", polled)
	}

	// 终态后轮询是幂等的，不再触达网关结果也不变
	firstPaidAt := *polled.PaidAt
	fake.queryTrade = "T-POLL-2"
	polled, err = svc.Poll(ctx, order.ID)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if polled.TradeNo != "T-POLL-1" || !polled.PaidAt.Equal(firstPaidAt) {
		t.Errorf("poll on terminal order must be a no-op: %+v", polled)
	}
}

func TestAdminOverride(t *testing.T) {
	db, svc, _ := setupOrderTest(t)
	ctx := context.Background()

	// 目标状态必须是终态之一
	order := createTestOrder(t, db, svc)
	if _, err := svc.AdminOverride(ctx, order.ID, entity.OrderStatusProcessing, "admin-1"); err != ErrInvalidStatus {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}

	// 无交易号强制置paid时合成占位交易号
	forced, err := svc.AdminOverride(ctx, order.ID, entity.OrderStatusPaid, "admin-1")
	if err != nil {
		t.Fatalf("override failed: %v", err)
	}
	if forced.Status != entity.OrderStatusPaid {
		t.Errorf("expected paid, got %s", forced.Status)
	}
	if forced.TradeNo == "" {
		t.Errorf("forced paid order must never have an empty trade no")
	}
	if forced.PaidAt == nil {
		t.Errorf("paid_at must be set on override")
	}

	// 终态订单不允许再次变更
	if _, err := svc.AdminOverride(ctx, order.ID, entity.OrderStatusCancelled, "admin-1"); err != ErrOrderStateInvalid {
		t.Errorf("expected ErrOrderStateInvalid on terminal order, got %v", err)
	}

	// cancelled 不应产生支付时间
	second := createTestOrder(t, db, svc)
	cancelled, err := svc.AdminOverride(ctx, second.ID, entity.OrderStatusCancelled, "admin-1")
	if err != nil {
		t.Fatalf("override failed: %v", err)
	}
	if cancelled.PaidAt != nil {
		t.Errorf("cancelled order must not carry paid_at")
	}
}

func TestOrderNoUnique(t *testing.T) {
	db, svc, _ := setupOrderTest(t)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		order := createTestOrder(t, db, svc)
		if seen[order.OrderNo] {
			t.Fatalf("duplicate order no issued: %s", order.OrderNo)
		}
		seen[order.OrderNo] = true
	}
}

func TestOrderNoCollisionRetries(t *testing.T) {
	db, svc, _ := setupOrderTest(t)

	// 前两次生成同一个号，唯一索引拦下后第三次换号成功
	sequence := []string{"PAY17000000000000001", "PAY17000000000000001", "PAY17000000000000002"}
	next := 0
	svc.newOrderNo = func() string {
		no := sequence[next]
		if next < len(sequence)-1 {
			next++
		}
		return no
	}

	first := createTestOrder(t, db, svc)
	if first.OrderNo != "PAY17000000000000001" {
		t.Fatalf("unexpected first order no: %s", first.OrderNo)
	}

	second := createTestOrder(t, db, svc)
	if second.OrderNo != "PAY17000000000000002" {
		t.Errorf("collision must retry with a fresh number, got %s", second.OrderNo)
	}

	var count int64
	db.Table("payment_orders").Count(&count)
	if count != 2 {
		t.Errorf("expected 2 orders after retry, got %d", count)
	}
}

func TestConcurrentConfirmSingleWinner(t *testing.T) {
	db, svc, _ := setupOrderTest(t)
	ctx := context.Background()
	order := createTestOrder(t, db, svc)
	repo := repository.NewRepositories(db).Order

	// 回调和轮询同时到达，条件更新保证只有一路真正改写状态
	var wg sync.WaitGroup
	changed := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := repo.MarkPaid(ctx, order.OrderNo, fmt.Sprintf("T-RACE-%d", i), "callback", nil)
			if err != nil {
				t.Errorf("mark paid failed: %v", err)
				return
			}
			changed[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range changed {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("exactly one confirmation must win, got %d", winners)
	}

	reloaded, _ := svc.Get(ctx, order.ID)
	if reloaded.Status != entity.OrderStatusPaid {
		t.Errorf("expected paid, got %s", reloaded.Status)
	}
}

// denyLocker 始终拒绝加锁
type denyLocker struct{}

func (denyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	return false, nil, nil
}

func TestInitiateLockedOutBeforeGateway(t *testing.T) {
	db := testutil.SetupTestDB(t)
	fake := &fakeGateway{intentOK: true}
	repos := repository.NewRepositories(db)
	svc := NewOrderService(repos, map[string]gateway.Gateway{
		entity.PaymentTypeAlipay: fake,
	}, denyLocker{}, zap.NewNop())
	order := createTestOrder(t, db, svc)

	// 锁被占住时连网关都不应触达
	if _, err := svc.Initiate(context.Background(), order.ID); err != ErrOrderStateInvalid {
		t.Fatalf("expected ErrOrderStateInvalid while locked, got %v", err)
	}
	if fake.createCalls != 0 {
		t.Errorf("locked initiate must not create a gateway intent, got %d calls", fake.createCalls)
	}

	reloaded, _ := svc.Get(context.Background(), order.ID)
	if reloaded.Status != entity.OrderStatusPending {
		t.Errorf("locked initiate must leave order pending, got %s", reloaded.Status)
	}
}
