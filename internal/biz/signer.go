package biz

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Signer 合作方请求签名
// 参数按 key 码点排序，值依次拼接后追加系统名和密钥，取 MD5 小写十六进制
type Signer struct {
	systemName string
	secret     string
}

// NewSigner 创建 Signer
func NewSigner(c *PartnerConfig) *Signer {
	return &Signer{systemName: c.SystemName, secret: c.Secret}
}

// Sign 计算签名，nil 值和非标量（map/slice/struct）不参与签名
func (s *Signer) Sign(params map[string]any) string {
	keys := make([]string, 0, len(params))
	values := make(map[string]string, len(params))
	for k, v := range params {
		str, ok := scalarString(v)
		if !ok {
			continue
		}
		keys = append(keys, k)
		values[k] = str
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(values[k])
	}
	b.WriteString(s.systemName)
	b.WriteString(s.secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	case decimal.Decimal:
		return x.String(), true
	case PayType:
		return strconv.Itoa(int(x)), true
	}
	return "", false
}
