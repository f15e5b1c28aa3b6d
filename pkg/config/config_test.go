package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/betbot/lagbet/internal/domain"
)

// TestLoadMissingFile 文件不存在时返回默认配置
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("缺文件不应报错: %v", err)
	}
	if cfg.Clob.Host != "https://clob.polymarket.com" {
		t.Errorf("clob host 默认值错误: %s", cfg.Clob.Host)
	}
	if cfg.Clob.ChainID != 137 {
		t.Errorf("chainId 默认值错误: %d", cfg.Clob.ChainID)
	}
	if cfg.Engine.DefaultSizeUsd != domain.DefaultSizeUsd {
		t.Errorf("引擎默认值未填充: %v", cfg.Engine.DefaultSizeUsd)
	}
	if cfg.Storage.JournalPath != "data/journal.db" {
		t.Errorf("流水库路径默认值错误: %s", cfg.Storage.JournalPath)
	}
}

// TestLoadFileAndEnvOverride 环境变量覆盖文件里的值
func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lagbet.yaml")
	data := `
engine:
  assets: [BTC]
  defaultSizeUsd: 25
clob:
  funderAddress: "0xfile"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LAGBET_ASSETS", "eth, sol")
	t.Setenv("LAGBET_DRY_RUN", "true")
	t.Setenv("LAGBET_FUNDER_ADDRESS", "0xenv")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if len(cfg.Engine.Assets) != 2 || cfg.Engine.Assets[0] != "ETH" || cfg.Engine.Assets[1] != "SOL" {
		t.Errorf("LAGBET_ASSETS 覆盖错误: %v", cfg.Engine.Assets)
	}
	if !cfg.Engine.DryRun {
		t.Error("LAGBET_DRY_RUN 未生效")
	}
	if cfg.Engine.DefaultSizeUsd != 25 {
		t.Errorf("文件里的 defaultSizeUsd 应保留: %v", cfg.Engine.DefaultSizeUsd)
	}
	if cfg.Clob.FunderAddress != "0xenv" {
		t.Errorf("env 应覆盖文件: %s", cfg.Clob.FunderAddress)
	}
}

// TestLoadRejectsInvalid 非法配置直接报错
func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lagbet.yaml")
	data := `
engine:
  timeExitSec: 30
  forceExitSec: 60
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("timeExitSec <= forceExitSec 应被拒")
	}
}

// TestSaveLoadRoundTrip 写回后再读，字段不丢
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lagbet.yaml")

	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Engine.Assets = []string{"BTC"}
	cfg.Engine.TakeProfitPct = 18
	cfg.Gamma.BaseURL = "https://gamma.example.com"
	cfg.Server.APIAddr = "127.0.0.1:9999"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("读回失败: %v", err)
	}
	if got.Engine.TakeProfitPct != 18 {
		t.Errorf("takeProfitPct 丢失: %v", got.Engine.TakeProfitPct)
	}
	if got.Gamma.BaseURL != "https://gamma.example.com" {
		t.Errorf("gamma baseUrl 丢失: %s", got.Gamma.BaseURL)
	}
	if got.Server.APIAddr != "127.0.0.1:9999" {
		t.Errorf("apiAddr 丢失: %s", got.Server.APIAddr)
	}
}

// TestCreateDefault 已存在时不覆盖
func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lagbet.yaml")
	if err := CreateDefault(path); err != nil {
		t.Fatalf("生成默认配置失败: %v", err)
	}
	if err := CreateDefault(path); err == nil {
		t.Error("已存在的文件不应被覆盖")
	}
}

// TestEnginePatchFullMapping 全字段 patch 应用到零值配置后等价于源配置
func TestEnginePatchFullMapping(t *testing.T) {
	src := domain.Config{}
	src.ApplyDefaults()
	src.TakeProfitPct = 18
	src.MaxConcurrentPositions = 3
	src.DryRun = true

	var dst domain.Config
	EnginePatch(src).Apply(&dst)

	if dst.TakeProfitPct != 18 || dst.MaxConcurrentPositions != 3 || !dst.DryRun {
		t.Errorf("patch 映射不全: %+v", dst)
	}
	if len(dst.Assets) != len(src.Assets) || len(dst.Windows) != len(src.Windows) {
		t.Errorf("切片字段未映射: %+v", dst)
	}
	if dst.PreferMaker == nil || *dst.PreferMaker != *src.PreferMaker {
		t.Error("preferMaker 未映射")
	}
	if dst.StopLossPct != src.StopLossPct || dst.TimeExitSec != src.TimeExitSec {
		t.Errorf("出场字段未映射: %+v", dst)
	}
}
