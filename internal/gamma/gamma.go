package gamma

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/pkg/cache"
	"github.com/betbot/lagbet/pkg/logger"
	"github.com/betbot/lagbet/pkg/marketspec"
	"github.com/betbot/lagbet/pkg/ratelimit"
)

const (
	// DefaultBaseURL Gamma API 地址
	DefaultBaseURL = "https://gamma-api.polymarket.com"

	// candidateTTL 同一短语的查询结果缓存时长
	// 轮换器的刷新防抖是 10s，5s 的缓存足以挡住重复短语
	candidateTTL = 5 * time.Second
)

var log = logger.WithField("component", "gamma")

// Client Gamma API 市场源，实现 ports.MarketSource
// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY, http_proxy, https_proxy）
type Client struct {
	http    *resty.Client
	limiter *ratelimit.Manager
	cache   *cache.InMemoryCache[string, []domain.MarketCandidate]
}

// New 创建 Gamma 客户端；baseURL 为空时用官方地址
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先尊重 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		}).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "lagbet-gamma")

	return &Client{
		http:    httpClient,
		limiter: ratelimit.NewManager(),
		cache:   cache.NewInMemoryCache[string, []domain.MarketCandidate](candidateTTL),
	}
}

// Query 按短语顺序查询候选市场，第一个产出非空结果的短语胜出
// 全部短语都空时返回 (nil, nil)；全部失败时返回最后一个错误
func (c *Client) Query(ctx context.Context, asset string, phrases []string) ([]domain.MarketCandidate, error) {
	var lastErr error
	for _, phrase := range phrases {
		candidates, err := c.queryPhrase(ctx, phrase)
		if err != nil {
			log.Debugf("%s: 短语 %q 查询失败: %v", asset, phrase, err)
			lastErr = err
			continue
		}
		if len(candidates) > 0 {
			return candidates, nil
		}
	}
	if lastErr != nil {
		return nil, errors.Wrapf(lastErr, "gamma 查询失败（%d 个短语）", len(phrases))
	}
	return nil, nil
}

// queryPhrase 单个短语的查询，带短 TTL 缓存
func (c *Client) queryPhrase(ctx context.Context, phrase string) ([]domain.MarketCandidate, error) {
	return c.cache.GetOrLoad(phrase, func() ([]domain.MarketCandidate, error) {
		if err := c.limiter.Wait(ctx, "gamma:markets:get"); err != nil {
			return nil, errors.Wrap(err, "速率限制等待失败")
		}

		params := map[string]string{
			"active": "true",
			"closed": "false",
			"limit":  "50",
		}
		if marketspec.IsSlugPhrase(phrase) {
			// slug 形式：精确 slug 查询；前缀形式（尾部 "-"）降级为文本搜索
			if strings.HasSuffix(phrase, "-") {
				params["_q"] = strings.ReplaceAll(strings.TrimSuffix(phrase, "-"), "-", " ")
			} else {
				params["slug"] = phrase
			}
		} else {
			params["_q"] = phrase
		}

		var raw []gammaMarket
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&raw).
			Get("/markets")
		if err != nil {
			return nil, errors.Wrap(err, "gamma 请求失败")
		}
		if resp.IsError() {
			return nil, errors.Errorf("gamma HTTP %d: %s", resp.StatusCode(), resp.String())
		}

		candidates := make([]domain.MarketCandidate, 0, len(raw))
		for i := range raw {
			cand, err := raw[i].toCandidate()
			if err != nil {
				// 单个市场解析失败只跳过，不拖累整批
				log.Debugf("跳过无法解析的市场 %s: %v", raw[i].Slug, err)
				continue
			}
			candidates = append(candidates, cand)
		}
		return candidates, nil
	})
}

// gammaMarket Gamma API 市场数据结构
// clobTokenIds / outcomes / outcomePrices 是 JSON 字符串编码的数组
type gammaMarket struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	ConditionID   string `json:"conditionId"`
	Slug          string `json:"slug"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	EndDate       string `json:"endDate"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	NegRisk       bool   `json:"negRisk"`
}

// toCandidate 解析嵌套的 JSON 字符串字段并转换为领域候选
func (g *gammaMarket) toCandidate() (domain.MarketCandidate, error) {
	var tokenIDs, outcomes, prices []string
	if err := json.Unmarshal([]byte(g.ClobTokenIDs), &tokenIDs); err != nil {
		return domain.MarketCandidate{}, errors.Wrap(err, "解析 clobTokenIds 失败")
	}
	if err := json.Unmarshal([]byte(g.Outcomes), &outcomes); err != nil {
		return domain.MarketCandidate{}, errors.Wrap(err, "解析 outcomes 失败")
	}
	if len(outcomes) != len(tokenIDs) {
		return domain.MarketCandidate{}, errors.Errorf("token/outcome 数量不一致: %d vs %d", len(tokenIDs), len(outcomes))
	}
	// outcomePrices 缺失或坏掉不算致命，价格留 0 等报价流补
	if g.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(g.OutcomePrices), &prices); err != nil {
			prices = nil
		}
	}

	endDate, err := time.Parse(time.RFC3339, g.EndDate)
	if err != nil {
		return domain.MarketCandidate{}, errors.Wrapf(err, "解析 endDate %q 失败", g.EndDate)
	}

	tokens := make([]domain.OutcomeToken, len(tokenIDs))
	for i := range tokenIDs {
		tok := domain.OutcomeToken{TokenID: tokenIDs[i], Label: outcomes[i]}
		if i < len(prices) {
			if p, err := strconv.ParseFloat(prices[i], 64); err == nil {
				tok.Price = p
			}
		}
		tokens[i] = tok
	}

	return domain.MarketCandidate{
		ID:            g.ID,
		Slug:          g.Slug,
		ConditionID:   g.ConditionID,
		Question:      g.Question,
		OutcomeTokens: tokens,
		ExpiresAt:     endDate,
		Active:        g.Active,
		Closed:        g.Closed,
		NegRisk:       g.NegRisk,
	}, nil
}
