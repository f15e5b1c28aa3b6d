package feed

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/betbot/lagbet/internal/ports"
	"github.com/betbot/lagbet/pkg/logger"
	"github.com/betbot/lagbet/pkg/syncgroup"
)

const (
	// DefaultWSURL Binance 组合流地址（末尾接 stream 列表）
	DefaultWSURL = "wss://stream.binance.com:9443/stream?streams="
	// DefaultRESTURL REST 兜底轮询地址
	DefaultRESTURL = "https://api.binance.com"

	// staleAfter 超过这个时长没收到 WS tick 就启用 REST 兜底
	staleAfter = 5 * time.Second
	// fallbackInterval REST 兜底轮询周期
	fallbackInterval = 3 * time.Second
	// reconnectDelay WS 断开后的重连间隔
	reconnectDelay = 2 * time.Second
)

var log = logger.WithField("component", "feed")

// combinedMessage Binance 组合流外层封装
type combinedMessage struct {
	Stream string   `json:"stream"`
	Data   aggTrade `json:"data"`
}

// aggTrade Binance aggTrade 推送
type aggTrade struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"` // 毫秒
}

// tickerPrice REST /api/v3/ticker/price 响应
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type listenerSet map[int]ports.TickFunc

// BinanceFeed 现货价格流，实现 ports.PriceFeed
// 主通道是 aggTrade 组合流；WS 超过 staleAfter 没有 tick 时用 REST 轮询兜底。
// 订阅资产集合变化时关闭当前连接强制重建（组合流的订阅在 URL 里）。
type BinanceFeed struct {
	mu sync.Mutex

	wsURL   string
	rest    *resty.Client
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool

	listeners map[string]listenerSet // 资产 → 监听者
	nextID    int
	conn      *websocket.Conn      // 当前连接（换订阅时关掉触发重连）
	lastTick  map[string]time.Time // 资产 → 最近 WS tick 时间

	sg *syncgroup.SyncGroup // 连接循环和兜底循环的生命周期
}

// Options 测试时可指向本地假服务
type Options struct {
	WSURL   string
	RESTURL string
}

func New(opt Options) *BinanceFeed {
	if opt.WSURL == "" {
		opt.WSURL = DefaultWSURL
	}
	if opt.RESTURL == "" {
		opt.RESTURL = DefaultRESTURL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BinanceFeed{
		wsURL: opt.WSURL,
		rest: resty.New().
			SetBaseURL(opt.RESTURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string]listenerSet),
		lastTick:  make(map[string]time.Time),
		sg:        syncgroup.NewSyncGroup(),
	}
}

// Subscribe 注册资产监听；返回的闭包负责退订
// 首次订阅启动连接循环，新资产加入时强制重建组合流连接
func (f *BinanceFeed) Subscribe(asset string, fn ports.TickFunc) (func(), error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" || fn == nil {
		return nil, errors.New("asset 和回调不能为空")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, errors.New("feed 已关闭")
	}
	f.nextID++
	id := f.nextID
	newAsset := f.listeners[asset] == nil
	if newAsset {
		f.listeners[asset] = make(listenerSet)
	}
	f.listeners[asset][id] = fn
	start := !f.started
	f.started = true
	conn := f.conn
	f.mu.Unlock()

	if start {
		f.sg.Add(f.runWS)
		f.sg.Add(f.runFallback)
		f.sg.Run()
	} else if newAsset && conn != nil {
		// 资产集合变了，断开让 runWS 带新 URL 重连
		_ = conn.Close()
	}

	return func() { f.unsubscribe(asset, id) }, nil
}

func (f *BinanceFeed) unsubscribe(asset string, id int) {
	f.mu.Lock()
	set := f.listeners[asset]
	delete(set, id)
	var conn *websocket.Conn
	if len(set) == 0 {
		delete(f.listeners, asset)
		conn = f.conn
	}
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close 关闭 feed；幂等
func (f *BinanceFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()

	f.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	// 等两个循环退出，避免关闭后还有回调在飞
	f.sg.Wait()
	return nil
}

// assets 当前订阅的资产快照（字典序，URL 稳定便于日志对比）
func (f *BinanceFeed) assets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.listeners))
	for a := range f.listeners {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// streamURL 组合流 URL，如 .../stream?streams=btcusdt@aggTrade/ethusdt@aggTrade
func (f *BinanceFeed) streamURL(assets []string) string {
	parts := make([]string, len(assets))
	for i, a := range assets {
		parts[i] = strings.ToLower(a) + "usdt@aggTrade"
	}
	return f.wsURL + strings.Join(parts, "/")
}

// runWS 连接循环：断开或订阅变化后 2s 重连
func (f *BinanceFeed) runWS() {
	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		assets := f.assets()
		if len(assets) == 0 {
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		u := f.streamURL(assets)
		log.Infof("连接行情源: %s", strings.Join(assets, "/"))
		conn, _, err := websocket.DefaultDialer.Dial(u, nil)
		if err != nil {
			log.Warnf("连接失败: %v，%s 后重试", err, reconnectDelay)
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			_ = conn.Close()
			return
		}
		f.conn = conn
		f.mu.Unlock()

		// Binance 每 3 分钟 ping 一次；gorilla 默认回 pong，这里只续读超时
		_ = conn.SetReadDeadline(time.Now().Add(45 * time.Second))
		conn.SetPingHandler(func(appData string) error {
			_ = conn.SetReadDeadline(time.Now().Add(45 * time.Second))
			return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
		})

		err = f.readLoop(conn)
		_ = conn.Close()

		if f.ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warnf("行情流断开: %v，%s 后重连", err, reconnectDelay)
		}
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *BinanceFeed) readLoop(conn *websocket.Conn) error {
	for {
		select {
		case <-f.ctx.Done():
			return f.ctx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(45 * time.Second))
		f.handleMessage(msg)
	}
}

// handleMessage 解析组合流消息并派发；坏消息静默丢弃
func (f *BinanceFeed) handleMessage(msg []byte) {
	var m combinedMessage
	if err := json.Unmarshal(msg, &m); err != nil || m.Data.Event != "aggTrade" {
		return
	}
	price, err := strconv.ParseFloat(m.Data.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	asset := strings.TrimSuffix(strings.ToUpper(m.Data.Symbol), "USDT")
	if asset == "" {
		return
	}
	at := time.UnixMilli(m.Data.TradeTime)
	if m.Data.TradeTime <= 0 {
		at = time.Now()
	}

	f.mu.Lock()
	f.lastTick[asset] = time.Now()
	f.mu.Unlock()

	f.dispatch(asset, price, at)
}

// dispatch 锁外调用监听者，避免回调里再进 feed 死锁
func (f *BinanceFeed) dispatch(asset string, price float64, at time.Time) {
	f.mu.Lock()
	fns := make([]ports.TickFunc, 0, len(f.listeners[asset]))
	for _, fn := range f.listeners[asset] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(asset, price, at)
	}
}

// runFallback REST 兜底：WS 长时间沉默的资产走 /api/v3/ticker/price
func (f *BinanceFeed) runFallback() {
	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		for _, asset := range f.assets() {
			f.mu.Lock()
			last, ok := f.lastTick[asset]
			f.mu.Unlock()
			if ok && now.Sub(last) < staleAfter {
				continue
			}

			var tp tickerPrice
			resp, err := f.rest.R().
				SetContext(f.ctx).
				SetQueryParam("symbol", asset+"USDT").
				SetResult(&tp).
				Get("/api/v3/ticker/price")
			if err != nil || resp.IsError() {
				log.Debugf("%s REST 兜底失败: %v", asset, err)
				continue
			}
			price, err := strconv.ParseFloat(tp.Price, 64)
			if err != nil || price <= 0 {
				continue
			}
			f.dispatch(asset, price, time.Now())
		}
	}
}
