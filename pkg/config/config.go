package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/pkg/logger"
)

var log = logger.WithField("component", "config")

// GammaConfig 市场源配置
type GammaConfig struct {
	BaseURL string `yaml:"baseUrl" json:"baseUrl"`
}

// FeedConfig 现货行情源配置
type FeedConfig struct {
	WSURL   string `yaml:"wsUrl" json:"wsUrl"`
	RESTURL string `yaml:"restUrl" json:"restUrl"`
}

// ClobConfig CLOB 接入配置
// 私钥不进配置文件：LAGBET_PRIVATE_KEY 环境变量或密钥库提供
type ClobConfig struct {
	Host          string `yaml:"host" json:"host"`
	ChainID       int64  `yaml:"chainId" json:"chainId"`
	FunderAddress string `yaml:"funderAddress" json:"funderAddress"`
	SignatureType int    `yaml:"signatureType" json:"signatureType"`
}

// ServerConfig 控制面 / metrics 监听配置
type ServerConfig struct {
	APIAddr     string `yaml:"apiAddr" json:"apiAddr"`
	MetricsAddr string `yaml:"metricsAddr" json:"metricsAddr"`
}

// StorageConfig 落盘路径配置
type StorageConfig struct {
	JournalPath string `yaml:"journalPath" json:"journalPath"` // 交易流水（sqlite）
	StatePath   string `yaml:"statePath" json:"statePath"`     // 仓位快照（json）
	SecretsPath string `yaml:"secretsPath" json:"secretsPath"` // 密钥库（badger）
}

// Config 应用配置：引擎参数 + 外围接入
type Config struct {
	Engine  domain.Config `yaml:"engine" json:"engine"`
	Gamma   GammaConfig   `yaml:"gamma" json:"gamma"`
	Feed    FeedConfig    `yaml:"feed" json:"feed"`
	Clob    ClobConfig    `yaml:"clob" json:"clob"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	LogDir  string        `yaml:"logDir" json:"logDir"`
}

// ApplyDefaults 填充零值字段
func (c *Config) ApplyDefaults() {
	c.Engine.ApplyDefaults()
	if c.Clob.Host == "" {
		c.Clob.Host = "https://clob.polymarket.com"
	}
	if c.Clob.ChainID == 0 {
		c.Clob.ChainID = 137 // Polygon 主网
	}
	if c.Server.APIAddr == "" {
		c.Server.APIAddr = "127.0.0.1:8808"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = "127.0.0.1:6066"
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = "data/journal.db"
	}
	if c.Storage.StatePath == "" {
		c.Storage.StatePath = "data/positions.json"
	}
	if c.Storage.SecretsPath == "" {
		c.Storage.SecretsPath = "data/secrets"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.Clob.Host == "" {
		return errors.New("clob.host 不能为空")
	}
	if c.Clob.ChainID <= 0 {
		return errors.New("clob.chainId 必须 > 0")
	}
	return nil
}

// Load 读取 yaml 配置，套上环境变量覆盖，填默认值并校验
// 文件不存在时返回纯默认配置（env 覆盖仍然生效）
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "解析配置文件 %s 失败", path)
		}
	case os.IsNotExist(err):
		log.Warnf("配置文件 %s 不存在，使用默认配置", path)
	default:
		return nil, errors.Wrapf(err, "读取配置文件 %s 失败", path)
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides LAGBET_* 环境变量覆盖（部署时免改文件）
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LAGBET_ASSETS"); v != "" {
		var assets []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, strings.ToUpper(a))
			}
		}
		if len(assets) > 0 {
			c.Engine.Assets = assets
		}
	}
	if v := os.Getenv("LAGBET_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Engine.DryRun = b
		}
	}
	if v := os.Getenv("LAGBET_SIZE_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Engine.DefaultSizeUsd = f
		}
	}
	if v := os.Getenv("LAGBET_CLOB_HOST"); v != "" {
		c.Clob.Host = v
	}
	if v := os.Getenv("LAGBET_FUNDER_ADDRESS"); v != "" {
		c.Clob.FunderAddress = v
	}
	if v := os.Getenv("LAGBET_GAMMA_URL"); v != "" {
		c.Gamma.BaseURL = v
	}
	if v := os.Getenv("LAGBET_API_ADDR"); v != "" {
		c.Server.APIAddr = v
	}
	if v := os.Getenv("LAGBET_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("LAGBET_LOG_DIR"); v != "" {
		c.LogDir = v
	}
}

// Save 写回配置文件（热更新持久化用）
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "序列化配置失败")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "写配置临时文件失败")
	}
	return errors.Wrap(os.Rename(tmp, path), "落盘配置文件失败")
}

// CreateDefault 生成默认配置文件（已存在时不覆盖）
func CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("配置文件 %s 已存在", path)
	}
	cfg := &Config{}
	cfg.ApplyDefaults()
	return Save(path, cfg)
}

// Watch 轮询配置文件 mtime，变化且合法时回调新配置
// 解析或校验失败只告警，继续用旧配置
func Watch(ctx context.Context, path string, interval time.Duration, onChange func(*Config)) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var lastMod time.Time
	if st, err := os.Stat(path); err == nil {
		lastMod = st.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := os.Stat(path)
		if err != nil || !st.ModTime().After(lastMod) {
			continue
		}
		lastMod = st.ModTime()

		cfg, err := Load(path)
		if err != nil {
			log.Warnf("配置热加载失败（沿用旧配置）: %v", err)
			continue
		}
		log.Infof("🔁 检测到配置文件变化，重新加载")
		onChange(cfg)
	}
}

// EnginePatch 把完整引擎配置转成全字段 patch（热加载走 engine.UpdateConfig 的入口）
func EnginePatch(e domain.Config) *domain.ConfigPatch {
	c := e.Clone()
	return &domain.ConfigPatch{
		Assets:                 c.Assets,
		MarketDurationSec:      &c.MarketDurationSec,
		Windows:                c.Windows,
		ThresholdBuckets:       c.ThresholdBuckets,
		MinSpotMovePct:         &c.MinSpotMovePct,
		MaxPolyFreshnessSec:    &c.MaxPolyFreshnessSec,
		MaxPolyMidForEntry:     &c.MaxPolyMidForEntry,
		DefaultSizeUsd:         &c.DefaultSizeUsd,
		MaxPositionSizeUsd:     &c.MaxPositionSizeUsd,
		MaxConcurrentPositions: &c.MaxConcurrentPositions,
		PreferMaker:            c.PreferMaker,
		MakerTimeoutMs:         &c.MakerTimeoutMs,
		TakerBufferCents:       &c.TakerBufferCents,
		NegRisk:                &c.NegRisk,
		TakeProfitPct:          &c.TakeProfitPct,
		StopLossPct:            &c.StopLossPct,
		TrailingStopPct:        &c.TrailingStopPct,
		TrailingActivationPct:  &c.TrailingActivationPct,
		ForceExitSec:           &c.ForceExitSec,
		TimeExitSec:            &c.TimeExitSec,
		MaxDailyLossUsd:        &c.MaxDailyLossUsd,
		CooldownAfterLossSec:   &c.CooldownAfterLossSec,
		CooldownAfterExitSec:   &c.CooldownAfterExitSec,
		DryRun:                 &c.DryRun,
	}
}
