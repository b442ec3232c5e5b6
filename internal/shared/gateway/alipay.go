package gateway

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlipayGateway 支付宝网关（表单编码报文 + RSA2签名）
type AlipayGateway struct {
	appID           string
	privateKey      *rsa.PrivateKey
	alipayPublicKey *rsa.PublicKey
	gatewayURL      string
	notifyURL       string
	returnURL       string
	httpClient      *http.Client
}

// NewAlipayGateway 创建支付宝网关
// 私钥/公钥接受PEM或裸base64格式（支付宝开放平台默认给裸base64）
func NewAlipayGateway(appID, privateKey, alipayPublicKey, gatewayURL, notifyURL, returnURL string) (*AlipayGateway, error) {
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("解析应用私钥失败: %w", err)
	}
	pub, err := parsePublicKey(alipayPublicKey)
	if err != nil {
		return nil, fmt.Errorf("解析支付宝公钥失败: %w", err)
	}
	return &AlipayGateway{
		appID:           appID,
		privateKey:      priv,
		alipayPublicKey: pub,
		gatewayURL:      gatewayURL,
		notifyURL:       notifyURL,
		returnURL:       returnURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// CreateIntent 生成电脑网站支付跳转链接（无需网络调用，签名后拼接网关URL）
func (g *AlipayGateway) CreateIntent(ctx context.Context, orderNo string, amount decimal.Decimal, description string) (*IntentResult, error) {
	bizContent, _ := json.Marshal(map[string]string{
		"out_trade_no": orderNo,
		"total_amount": amount.StringFixed(2),
		"subject":      description,
		"product_code": "FAST_INSTANT_TRADE_PAY",
	})

	params := g.commonParams("alipay.trade.page.pay")
	params["notify_url"] = g.notifyURL
	params["return_url"] = g.returnURL
	params["biz_content"] = string(bizContent)

	sign, err := g.sign(params)
	if err != nil {
		return nil, fmt.Errorf("支付宝签名失败: %w", err)
	}
	params["sign"] = sign

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	raw := make(map[string]interface{}, len(params))
	for k, v := range params {
		raw[k] = v
	}
	return &IntentResult{
		Success:    true,
		PaymentURL: g.gatewayURL + "?" + values.Encode(),
		Raw:        raw,
	}, nil
}

// QueryStatus 交易查询 alipay.trade.query
func (g *AlipayGateway) QueryStatus(ctx context.Context, orderNo string) (*StatusResult, error) {
	bizContent, _ := json.Marshal(map[string]string{
		"out_trade_no": orderNo,
	})

	params := g.commonParams("alipay.trade.query")
	params["biz_content"] = string(bizContent)

	sign, err := g.sign(params)
	if err != nil {
		return nil, fmt.Errorf("支付宝签名失败: %w", err)
	}
	params["sign"] = sign

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.gatewayURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("创建支付宝查询请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求支付宝接口失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取支付宝响应失败: %w", err)
	}

	var wrapper struct {
		Response map[string]interface{} `json:"alipay_trade_query_response"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("解析支付宝响应失败: %w", err)
	}

	result := &StatusResult{Raw: wrapper.Response}
	code, _ := wrapper.Response["code"].(string)
	if code != "10000" {
		if msg, ok := wrapper.Response["sub_msg"].(string); ok && msg != "" {
			result.Message = msg
		} else if msg, ok := wrapper.Response["msg"].(string); ok {
			result.Message = msg
		}
		return result, nil
	}

	result.Success = true
	result.ProviderStatus, _ = wrapper.Response["trade_status"].(string)
	result.TradeNo, _ = wrapper.Response["trade_no"].(string)
	return result, nil
}

// VerifyNotification 解析表单编码通知并RSA2验签
func (g *AlipayGateway) VerifyNotification(body []byte) (*Notification, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("解析支付宝回调参数失败: %w", err)
	}

	data := make(map[string]string, len(values))
	for k := range values {
		data[k] = values.Get(k)
	}

	sign := data["sign"]
	if sign == "" {
		return nil, fmt.Errorf("支付宝回调缺少签名")
	}

	// 验签时剔除 sign / sign_type
	unsigned := make(map[string]string, len(data))
	for k, v := range data {
		if k == "sign" || k == "sign_type" {
			continue
		}
		unsigned[k] = v
	}
	if err := g.verify(unsigned, sign); err != nil {
		return nil, fmt.Errorf("支付宝回调签名校验失败: %w", err)
	}

	return &Notification{
		OrderNo:        data["out_trade_no"],
		ProviderStatus: data["trade_status"],
		TradeNo:        data["trade_no"],
		Raw:            rawMap(data),
	}, nil
}

// StatusPaid TRADE_SUCCESS 与 TRADE_FINISHED 均视为已支付
func (g *AlipayGateway) StatusPaid(providerStatus string) bool {
	return providerStatus == "TRADE_SUCCESS" || providerStatus == "TRADE_FINISHED"
}

func (g *AlipayGateway) AckSuccess() string { return "success" }

func (g *AlipayGateway) AckFailure() string { return "fail" }

func (g *AlipayGateway) AckContentType() string { return "text/plain" }

func (g *AlipayGateway) commonParams(method string) map[string]string {
	return map[string]string{
		"app_id":    g.appID,
		"method":    method,
		"format":    "JSON",
		"charset":   "utf-8",
		"sign_type": "RSA2",
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
		"version":   "1.0",
	}
}

// signingString 参数按键名升序拼接 k=v，& 连接
func signingString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

func (g *AlipayGateway) sign(params map[string]string) (string, error) {
	digest := sha256.Sum256([]byte(signingString(params)))
	sig, err := rsa.SignPKCS1v15(nil, g.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (g *AlipayGateway) verify(params map[string]string, sign string) error {
	sig, err := base64.StdEncoding.DecodeString(sign)
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(signingString(params)))
	return rsa.VerifyPKCS1v15(g.alipayPublicKey, crypto.SHA256, digest[:], sig)
}

func parsePrivateKey(key string) (*rsa.PrivateKey, error) {
	der, err := keyDER(key, "RSA PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	if priv, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return priv, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return priv, nil
}

func parsePublicKey(key string) (*rsa.PublicKey, error) {
	der, err := keyDER(key, "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return pub, nil
}

// keyDER 兼容PEM与裸base64两种密钥格式
func keyDER(key, pemType string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "-----") {
		block, _ := pem.Decode([]byte(key))
		if block == nil {
			return nil, fmt.Errorf("invalid PEM %s", pemType)
		}
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(key, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	return der, nil
}
