package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// BuildPolyHmacSignature L2 认证签名：HMAC-SHA256(secret, timestamp+method+path+body)。
// secret 是 base64url，输出也是 base64url（保留 = 填充），两头都要和服务端约定一致。
func BuildPolyHmacSignature(secret string, timestamp int64, method, requestPath string, body *string) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + method + requestPath
	if body != nil {
		message += *body
	}

	keyData, err := base64.StdEncoding.DecodeString(sanitizeSecret(secret))
	if err != nil {
		return "", fmt.Errorf("解码 secret 失败: %w", err)
	}

	mac := hmac.New(sha256.New, keyData)
	mac.Write([]byte(message))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// 转 base64url
	sig = strings.ReplaceAll(sig, "+", "-")
	return strings.ReplaceAll(sig, "/", "_"), nil
}

// sanitizeSecret 把 base64url 的 secret 还原成标准 base64，顺手丢掉非法字符
func sanitizeSecret(secret string) string {
	s := strings.ReplaceAll(secret, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '+', r == '/', r == '=':
			return r
		}
		return -1
	}, s)
}
