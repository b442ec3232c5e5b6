package gateway

import (
	"strings"
	"testing"
)

func TestWechatSignDeterministic(t *testing.T) {
	g := NewWechatGateway("wxapp", "mch001", "testkey", "http://localhost/notify")

	params := map[string]string{
		"appid":        "wxapp",
		"mch_id":       "mch001",
		"out_trade_no": "PAY1234",
		"nonce_str":    "abc",
		"empty":        "",
	}

	sign1 := g.sign(params)
	sign2 := g.sign(params)
	if sign1 != sign2 {
		t.Fatalf("sign should be deterministic: %s vs %s", sign1, sign2)
	}
	if len(sign1) != 32 || sign1 != strings.ToUpper(sign1) {
		t.Errorf("expected uppercase 32-char MD5, got %q", sign1)
	}

	// 空值参数不参与签名
	delete(params, "empty")
	if g.sign(params) != sign1 {
		t.Errorf("empty values must not affect the signature")
	}
}

func TestWechatVerifyNotification(t *testing.T) {
	g := NewWechatGateway("wxapp", "mch001", "testkey", "http://localhost/notify")

	data := map[string]string{
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"out_trade_no":   "PAY17001",
		"transaction_id": "T123",
	}
	data["sign"] = g.sign(data)

	notif, err := g.VerifyNotification(mapToXML(data))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if notif.OrderNo != "PAY17001" || notif.TradeNo != "T123" {
		t.Errorf("unexpected notification: %+v", notif)
	}
	if !g.StatusPaid(notif.ProviderStatus) {
		t.Errorf("SUCCESS should be treated as paid")
	}
}

func TestWechatVerifyNotificationBadSign(t *testing.T) {
	g := NewWechatGateway("wxapp", "mch001", "testkey", "http://localhost/notify")

	data := map[string]string{
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"out_trade_no":   "PAY17001",
		"transaction_id": "T123",
		"sign":           "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF",
	}

	if _, err := g.VerifyNotification(mapToXML(data)); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

func TestWechatAckSentinels(t *testing.T) {
	g := NewWechatGateway("wxapp", "mch001", "testkey", "http://localhost/notify")

	if !strings.Contains(g.AckSuccess(), "<![CDATA[SUCCESS]]>") {
		t.Errorf("success ack must carry the SUCCESS sentinel: %s", g.AckSuccess())
	}
	if !strings.Contains(g.AckFailure(), "<![CDATA[FAIL]]>") {
		t.Errorf("failure ack must carry the FAIL sentinel: %s", g.AckFailure())
	}
	if g.AckContentType() != "text/xml" {
		t.Errorf("unexpected ack content type %q", g.AckContentType())
	}
}

func TestXMLRoundTrip(t *testing.T) {
	in := map[string]string{
		"out_trade_no": "PAY1",
		"body":         "表单支付 <测试>",
	}
	out, err := xmlToMap(mapToXML(in))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	for k, v := range in {
		if out[k] != v {
			t.Errorf("key %s: expected %q got %q", k, v, out[k])
		}
	}
}
