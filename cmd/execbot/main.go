package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/controlplane/server"
	"github.com/betbot/execbot/internal/controlplane/tradestore"
	"github.com/betbot/execbot/internal/execution"
	"github.com/betbot/execbot/internal/marketdata"
	"github.com/betbot/execbot/internal/metrics"
	"github.com/betbot/execbot/internal/risk"
	"github.com/betbot/execbot/internal/scheduler"
	"github.com/betbot/execbot/internal/sizing"
	"github.com/betbot/execbot/pkg/config"
	"github.com/betbot/execbot/pkg/logger"
	"github.com/betbot/execbot/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "yml/execbot.yaml", "配置文件路径")
	dryRun := flag.Bool("dry-run", false, "强制纸面交易（覆盖配置）")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		logrus.Warnf("配置文件 %s 不存在，使用环境变量和默认值", path)
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if err := logger.Init(loggerConfig(cfg.Log)); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}
	logrus.Infof("execbot 启动: mode=%s dry_run=%v symbols=%v", cfg.Mode, cfg.DryRun, cfg.Symbols)

	if err := run(cfg); err != nil {
		logrus.Errorf("运行失败: %v", err)
		os.Exit(1)
	}
	logrus.Info("execbot 已停止")
}

func run(cfg *config.Config) error {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sm := shutdown.NewManager()

	// 存储
	persist, err := openPersistence(cfg.Persistence)
	if err != nil {
		return err
	}
	sm.OnShutdown("persistence", func(context.Context) error { return persist.Close() })

	retention := time.Duration(cfg.Persistence.RetentionDays) * 24 * time.Hour
	trades, err := tradestore.Open(cfg.Persistence.TradesDB, retention)
	if err != nil {
		return err
	}
	sm.OnShutdown("tradestore", func(context.Context) error { return trades.Close() })
	trades.StartPurge(rootCtx, time.Hour)

	// 行情
	agg := marketdata.NewAggregator(aggregatorConfig(cfg), codecs(cfg)...)
	for _, sym := range cfg.Symbols {
		agg.Subscribe(sym)
	}
	agg.Start(rootCtx)
	sm.OnShutdown("marketdata", func(context.Context) error {
		agg.Wait()
		return nil
	})

	venues, err := buildVenues(cfg, agg)
	if err != nil {
		return err
	}
	if len(venues) == 0 {
		return fmt.Errorf("没有可下单的交易所")
	}

	// 风控 + 仓位
	gate, err := risk.NewGate(riskConfig(cfg), risk.NewStateStore(persist.Service(), "execbot"))
	if err != nil {
		return err
	}
	sizer := sizing.NewSizer(sizingConfig(cfg.Sizing))

	engine := execution.NewEngine(executionConfig(cfg), agg, venues,
		execution.WithJournal(trades),
		execution.WithOutcomeRecorders(gate, sizer),
		execution.WithFillEstimator(agg),
		execution.WithAlertSink(execution.LogAlertSink{}),
	)

	sched := scheduler.New(scheduler.Config{
		Mode:            risk.Mode(cfg.Mode),
		RoundTripFeePct: 2 * averageFeePct(cfg),
		Symbols:         cfg.Symbols,
	}, gate, sizer, engine, agg)
	sched.Start(rootCtx)
	sm.OnShutdown("scheduler", func(context.Context) error {
		// 监控中的交易在 rootCtx 取消后以 SHUTDOWN 平仓
		sched.Wait()
		return nil
	})

	// 控制面
	api, err := server.New(server.Config{
		Listen:          cfg.Server.Listen,
		IntakePerMinute: cfg.Server.IntakePerMinute,
		HaltDuration:    time.Duration(cfg.Risk.CooldownMs) * time.Millisecond,
		DryRun:          cfg.DryRun,
	}, server.Deps{Books: agg, Gate: gate, Engine: engine, Intake: sched, Trades: trades})
	if err != nil {
		return err
	}
	if err := api.Start(); err != nil {
		return err
	}
	sm.OnShutdown("controlplane", api.Shutdown)

	if cfg.Server.MetricsListen != "" {
		if addr, err := metrics.StartAsync(rootCtx, cfg.Server.MetricsListen); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logrus.Infof("metrics/pprof 启用: listen=%s (expvar:/debug/vars, pprof:/debug/pprof)", addr)
		}
	}

	logrus.Info("execbot 已启动，按 Ctrl+C 停止")

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	<-sigC
	logrus.Info("收到停止信号，正在关闭...")
	// 先取消 root ctx：停止接收新意图，未平仓交易开始 SHUTDOWN 平仓
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sm.Shutdown(shutdownCtx)
	return nil
}
