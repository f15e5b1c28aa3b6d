package client

import (
	"crypto/ecdsa"
	"net/url"
	"os"
	"strings"

	"github.com/betbot/lagbet/clob/types"
	"github.com/betbot/lagbet/pkg/ratelimit"
)

// Client Polymarket CLOB 客户端
type Client struct {
	host          string
	chainID       types.Chain
	authConfig    *AuthConfig
	httpClient    *httpClient
	funderAddress string
	signatureType types.SignatureType
	rateLimiter   *ratelimit.Manager
}

// NewClient 创建 CLOB 客户端
// creds 可为 nil（只读端点不需要 L2 认证），之后通过 SetCreds 补上
func NewClient(host string, chainID types.Chain, privateKey *ecdsa.PrivateKey, creds *types.ApiKeyCreds) *Client {
	authConfig := &AuthConfig{
		PrivateKey: privateKey,
		ChainID:    chainID,
		Creds:      creds,
	}

	// 代理仅在环境变量设置时启用
	var proxyURL *url.URL
	useProxy := false
	if proxyStr := getProxyURL(); proxyStr != "" {
		if parsed, err := url.Parse(proxyStr); err == nil {
			proxyURL = parsed
			useProxy = true
		}
	}

	return &Client{
		host:          strings.TrimSuffix(host, "/"),
		chainID:       chainID,
		authConfig:    authConfig,
		httpClient:    newHTTPClient(host, useProxy, proxyURL),
		signatureType: types.SignatureTypeBrowser,
		rateLimiter:   ratelimit.NewManager(),
	}
}

// SetFunder 设置代理钱包地址和签名类型
// Polymarket 网页注册的账号资金在代理钱包里，maker 必须填代理地址
func (c *Client) SetFunder(funderAddress string, signatureType types.SignatureType) {
	c.funderAddress = funderAddress
	c.signatureType = signatureType
}

// SetCreds 设置 L2 API 凭证（CreateOrDeriveAPIKey 之后调用）
func (c *Client) SetCreds(creds *types.ApiKeyCreds) {
	c.authConfig.Creds = creds
}

func getProxyURL() string {
	for _, v := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
		if val := os.Getenv(v); val != "" {
			return val
		}
	}
	return ""
}

// GetHost 获取主机地址
func (c *Client) GetHost() string {
	return c.host
}

// GetChainID 获取链 ID
func (c *Client) GetChainID() types.Chain {
	return c.chainID
}
