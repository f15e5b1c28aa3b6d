package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/sirupsen/logrus"

	"github.com/betbot/lagbet/clob/client"
	"github.com/betbot/lagbet/clob/signing"
	"github.com/betbot/lagbet/clob/types"
	"github.com/betbot/lagbet/internal/controlplane"
	"github.com/betbot/lagbet/internal/detector"
	"github.com/betbot/lagbet/internal/engine"
	"github.com/betbot/lagbet/internal/execution"
	"github.com/betbot/lagbet/internal/feed"
	"github.com/betbot/lagbet/internal/gamma"
	"github.com/betbot/lagbet/internal/journal"
	"github.com/betbot/lagbet/internal/metrics"
	"github.com/betbot/lagbet/internal/ports"
	"github.com/betbot/lagbet/internal/position"
	"github.com/betbot/lagbet/internal/risk"
	"github.com/betbot/lagbet/internal/rotator"
	"github.com/betbot/lagbet/pkg/config"
	"github.com/betbot/lagbet/pkg/logger"
	"github.com/betbot/lagbet/pkg/persistence"
	"github.com/betbot/lagbet/pkg/secretstore"
	"github.com/betbot/lagbet/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "yml/lagbet.yaml", "配置文件路径")
	initConfig := flag.Bool("init-config", false, "生成默认配置文件后退出")
	dryRun := flag.Bool("dry-run", false, "干跑模式（覆盖配置文件）")
	apiAddr := flag.String("api", "", "控制面 API 地址（覆盖配置文件）")
	metricsAddr := flag.String("metrics", "", "metrics/pprof 地址（覆盖配置文件）")
	flag.Parse()

	// .env 不存在时静默跳过
	_ = godotenv.Load()

	if *initConfig {
		if err := config.CreateDefault(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "生成配置失败:", err)
			os.Exit(1)
		}
		fmt.Println("已生成默认配置:", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Engine.DryRun = true
	}
	if *apiAddr != "" {
		cfg.Server.APIAddr = *apiAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	if err := logger.Init(logger.Config{
		Level:         "info",
		OutputFile:    filepath.Join(cfg.LogDir, "lagbet.log"),
		MaxSize:       100,
		MaxBackups:    3,
		MaxAge:        7,
		Compress:      true,
		LogByRound:    true,
		RoundDuration: time.Duration(cfg.Engine.MarketDurationSec) * time.Second,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "初始化日志失败:", err)
		os.Exit(1)
	}

	logrus.Infof("🚀 lagbet 启动: assets=%v dryRun=%v", cfg.Engine.Assets, cfg.Engine.DryRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shut := shutdown.NewManager()

	// 行情与市场源
	priceFeed := feed.New(feed.Options{
		WSURL:   cfg.Feed.WSURL,
		RESTURL: cfg.Feed.RESTURL,
	})
	marketSource := gamma.New(cfg.Gamma.BaseURL)

	// 决策核心
	det := detector.New(cfg.Engine)
	rot := rotator.New(marketSource, cfg.Engine)
	positions := position.NewManager(cfg.Engine)

	// 仓位快照：进程重启后恢复未平仓位
	stateDir := filepath.Dir(cfg.Storage.StatePath)
	store := persistence.NewJSONFileService(stateDir).NewStore("lagbet", "positions", "state")
	positions.AttachStore(store)

	// 执行器：干跑走模拟成交，实盘接 CLOB
	var executor ports.Executor
	var quotes ports.BestPriceGetter
	if cfg.Engine.DryRun {
		executor = execution.NewDryRunExecutor()
	} else {
		clobClient, err := buildClobClient(ctx, cfg)
		if err != nil {
			logrus.Fatalf("初始化 CLOB 客户端失败: %v", err)
		}
		clobExec := execution.NewClobExecutor(clobClient)
		// 连续 5 次下单失败就熔断，防止 API 异常时反复撞墙
		clobExec.SetBreaker(risk.NewBreaker(5))
		executor = clobExec
		quotes = clobExec
	}

	// 交易流水
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0o755); err != nil {
		logrus.Fatalf("创建数据目录失败: %v", err)
	}
	jnl, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		logrus.Fatalf("打开流水库失败: %v", err)
	}
	shut.OnShutdown(func(context.Context) { _ = jnl.Close() })

	eng := engine.New(cfg.Engine, engine.Deps{
		Feed:      priceFeed,
		Detector:  det,
		Rotator:   rot,
		Positions: positions,
		Executor:  executor,
		Quotes:    quotes,
		Recorder:  jnl,
	})

	if err := eng.Start(ctx); err != nil {
		logrus.Fatalf("启动引擎失败: %v", err)
	}
	shut.OnShutdown(func(context.Context) { eng.Stop() })
	shut.OnShutdown(func(context.Context) { _ = priceFeed.Close() })

	// 控制面 API
	api := controlplane.New(eng, positions, rot, jnl)
	if err := api.Start(ctx, cfg.Server.APIAddr); err != nil {
		logrus.Fatalf("启动控制面 API 失败: %v", err)
	}

	// metrics + pprof
	if _, err := metrics.StartAsync(ctx, cfg.Server.MetricsAddr); err != nil {
		logrus.Warnf("metrics 服务启动失败（不影响主流程）: %v", err)
	}

	// 配置热加载：文件变化 → 全字段 patch 进引擎
	go config.Watch(ctx, *configPath, 5*time.Second, func(next *config.Config) {
		if _, err := eng.UpdateConfig(config.EnginePatch(next.Engine)); err != nil {
			logrus.Warnf("配置热更新被拒: %v", err)
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logrus.Infof("收到信号 %v，开始优雅退出", sig)

	cancel()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	shut.Shutdown(shutCtx)
	logrus.Info("👋 lagbet 已退出")
}

// buildClobClient 组装实盘下单客户端：解析私钥、推导 L2 凭证、做一次资金预检
func buildClobClient(ctx context.Context, cfg *config.Config) (*client.Client, error) {
	privateKeyHex, err := resolvePrivateKey(cfg)
	if err != nil {
		return nil, err
	}

	privateKey, err := signing.PrivateKeyFromHex(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}

	clobClient := client.NewClient(cfg.Clob.Host, types.Chain(cfg.Clob.ChainID), privateKey, nil)
	if cfg.Clob.FunderAddress != "" {
		clobClient.SetFunder(cfg.Clob.FunderAddress, types.SignatureType(cfg.Clob.SignatureType))
	}

	creds, err := clobClient.CreateOrDeriveAPIKey(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("获取 API 凭证失败: %w", err)
	}
	clobClient.SetCreds(creds)

	addr, _ := clobClient.GetAddress()
	logrus.Infof("CLOB 客户端就绪: signer=%s funder=%s", addr.Hex(), cfg.Clob.FunderAddress)

	// 资金预检只告警不拦截，余额不足时下单自然会被拒
	if balance, err := clobClient.GetBalanceAllowance(ctx, &types.BalanceAllowanceParams{
		AssetType: types.AssetTypeCollateral,
	}); err != nil {
		logrus.Warnf("余额预检失败: %v", err)
	} else {
		logrus.Infof("💰 USDC 余额: %s（授权: %s）", balance.Balance, balance.Allowance)
	}

	return clobClient, nil
}

// resolvePrivateKey 私钥解析顺序：环境变量 → 密钥库私钥 → 密钥库助记词派生。
// 私钥永远不进配置文件。
func resolvePrivateKey(cfg *config.Config) (string, error) {
	if pk := strings.TrimSpace(os.Getenv("LAGBET_PRIVATE_KEY")); pk != "" {
		return pk, nil
	}

	encKey, err := secretstore.ParseKey(os.Getenv("LAGBET_SECRETS_KEY"))
	if err != nil {
		return "", fmt.Errorf("解析密钥库加密密钥失败: %w", err)
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.Storage.SecretsPath,
		EncryptionKey: encKey,
		ReadOnly:      true,
	})
	if err != nil {
		return "", fmt.Errorf("打开密钥库失败（也可以直接设置 LAGBET_PRIVATE_KEY）: %w", err)
	}
	defer ss.Close()

	if pk, ok, err := ss.GetString("wallet:private_key"); err != nil {
		return "", err
	} else if ok && strings.TrimSpace(pk) != "" {
		return pk, nil
	}

	// 没有直存私钥时尝试助记词派生
	mnemonic, ok, err := ss.GetString("wallet:mnemonic")
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(mnemonic) == "" {
		return "", fmt.Errorf("密钥库中没有 wallet:private_key 或 wallet:mnemonic")
	}

	derivationPath := strings.TrimSpace(os.Getenv("LAGBET_DERIVATION_PATH"))
	if derivationPath == "" {
		derivationPath = "m/44'/60'/0'/0/0"
	}
	return deriveFromMnemonic(mnemonic, derivationPath)
}

func deriveFromMnemonic(mnemonic, derivationPath string) (string, error) {
	w, err := hdwallet.NewFromMnemonic(strings.TrimSpace(mnemonic))
	if err != nil {
		return "", fmt.Errorf("助记词无效: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return "", fmt.Errorf("派生路径无效: %w", err)
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return "", fmt.Errorf("派生钱包失败: %w", err)
	}
	return w.PrivateKeyHex(acct)
}
