package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 微信支付商户API基础地址
const wechatBaseURL = "https://api.mch.weixin.qq.com"

// WechatGateway 微信支付网关（Native扫码，XML报文 + MD5签名）
type WechatGateway struct {
	appID      string
	mchID      string
	apiKey     string
	notifyURL  string
	httpClient *http.Client
}

// NewWechatGateway 创建微信支付网关
func NewWechatGateway(appID, mchID, apiKey, notifyURL string) *WechatGateway {
	return &WechatGateway{
		appID:     appID,
		mchID:     mchID,
		apiKey:    apiKey,
		notifyURL: notifyURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateIntent 统一下单，成功时返回二维码内容
func (g *WechatGateway) CreateIntent(ctx context.Context, orderNo string, amount decimal.Decimal, description string) (*IntentResult, error) {
	// 金额单位为分
	totalFee := amount.Mul(decimal.NewFromInt(100)).IntPart()

	params := map[string]string{
		"appid":            g.appID,
		"mch_id":           g.mchID,
		"nonce_str":        nonceStr(),
		"body":             description,
		"out_trade_no":     orderNo,
		"total_fee":        fmt.Sprintf("%d", totalFee),
		"spbill_create_ip": "127.0.0.1",
		"notify_url":       g.notifyURL,
		"trade_type":       "NATIVE",
	}
	params["sign"] = g.sign(params)

	resp, err := g.post(ctx, "/pay/unifiedorder", params)
	if err != nil {
		return nil, err
	}

	result := &IntentResult{Raw: rawMap(resp)}
	if resp["return_code"] != "SUCCESS" {
		result.Message = resp["return_msg"]
		return result, nil
	}
	if resp["result_code"] != "SUCCESS" {
		result.Message = resp["err_code_des"]
		if result.Message == "" {
			result.Message = resp["err_code"]
		}
		return result, nil
	}

	result.Success = true
	result.QRPayload = resp["code_url"]
	return result, nil
}

// QueryStatus 订单状态查询
func (g *WechatGateway) QueryStatus(ctx context.Context, orderNo string) (*StatusResult, error) {
	params := map[string]string{
		"appid":        g.appID,
		"mch_id":       g.mchID,
		"out_trade_no": orderNo,
		"nonce_str":    nonceStr(),
	}
	params["sign"] = g.sign(params)

	resp, err := g.post(ctx, "/pay/orderquery", params)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{Raw: rawMap(resp)}
	if resp["return_code"] != "SUCCESS" || resp["result_code"] != "SUCCESS" {
		result.Message = resp["return_msg"]
		if result.Message == "" {
			result.Message = resp["err_code_des"]
		}
		return result, nil
	}

	result.Success = true
	result.ProviderStatus = resp["trade_state"]
	result.TradeNo = resp["transaction_id"]
	return result, nil
}

// VerifyNotification 解析XML通知并验签
func (g *WechatGateway) VerifyNotification(body []byte) (*Notification, error) {
	data, err := xmlToMap(body)
	if err != nil {
		return nil, fmt.Errorf("解析微信回调XML失败: %w", err)
	}

	sign := data["sign"]
	if sign == "" {
		return nil, fmt.Errorf("微信回调缺少签名")
	}
	unsigned := make(map[string]string, len(data))
	for k, v := range data {
		if k != "sign" {
			unsigned[k] = v
		}
	}
	if g.sign(unsigned) != sign {
		return nil, fmt.Errorf("微信回调签名校验失败")
	}

	if data["return_code"] != "SUCCESS" || data["result_code"] != "SUCCESS" {
		return nil, fmt.Errorf("微信回调结果非成功: %s", data["return_code"])
	}

	return &Notification{
		OrderNo:        data["out_trade_no"],
		ProviderStatus: data["result_code"],
		TradeNo:        data["transaction_id"],
		Raw:            rawMap(data),
	}, nil
}

// StatusPaid 查询接口的 trade_state 与回调的 result_code 都用 SUCCESS 表示已支付
func (g *WechatGateway) StatusPaid(providerStatus string) bool {
	return providerStatus == "SUCCESS"
}

func (g *WechatGateway) AckSuccess() string {
	return "<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>"
}

func (g *WechatGateway) AckFailure() string {
	return "<xml><return_code><![CDATA[FAIL]]></return_code><return_msg><![CDATA[FAIL]]></return_msg></xml>"
}

func (g *WechatGateway) AckContentType() string { return "text/xml" }

// sign MD5签名：参数按键名升序拼接 k=v，末尾附加 &key=APIKey，取大写MD5
func (g *WechatGateway) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
		sb.WriteString("&")
	}
	sb.WriteString("key=")
	sb.WriteString(g.apiKey)

	sum := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (g *WechatGateway) post(ctx context.Context, path string, params map[string]string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", wechatBaseURL+path, bytes.NewReader(mapToXML(params)))
	if err != nil {
		return nil, fmt.Errorf("创建微信支付请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求微信支付接口失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取微信支付响应失败: %w", err)
	}

	data, err := xmlToMap(body)
	if err != nil {
		return nil, fmt.Errorf("解析微信支付响应失败: %w", err)
	}
	return data, nil
}

// xmlToMap 解析微信 <xml><k>v</k></xml> 扁平报文
func xmlToMap(body []byte) (map[string]string, error) {
	data := make(map[string]string)
	decoder := xml.NewDecoder(bytes.NewReader(body))

	var key string
	var value strings.Builder
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local != "xml" {
				key = t.Name.Local
				value.Reset()
			}
		case xml.CharData:
			if key != "" {
				value.Write(t)
			}
		case xml.EndElement:
			if key != "" {
				data[key] = strings.TrimSpace(value.String())
				key = ""
			}
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty xml payload")
	}
	return data, nil
}

// mapToXML 生成微信扁平XML报文
func mapToXML(params map[string]string) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("<xml>")
	for _, k := range keys {
		buf.WriteString("<" + k + ">")
		xml.EscapeText(&buf, []byte(params[k]))
		buf.WriteString("</" + k + ">")
	}
	buf.WriteString("</xml>")
	return buf.Bytes()
}

// nonceStr 32位随机字符串
func nonceStr() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func rawMap(data map[string]string) map[string]interface{} {
	raw := make(map[string]interface{}, len(data))
	for k, v := range data {
		raw[k] = v
	}
	return raw
}
