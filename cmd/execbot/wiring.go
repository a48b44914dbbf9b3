package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/execbot/internal/execution"
	"github.com/betbot/execbot/internal/infrastructure/venue"
	"github.com/betbot/execbot/internal/marketdata"
	"github.com/betbot/execbot/internal/ports"
	"github.com/betbot/execbot/internal/risk"
	"github.com/betbot/execbot/internal/sizing"
	"github.com/betbot/execbot/pkg/config"
	"github.com/betbot/execbot/pkg/logger"
	"github.com/betbot/execbot/pkg/persistence"
	"github.com/betbot/execbot/pkg/secretstore"
)

const secretPrefix = "env/"

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func loggerConfig(c config.LogConfig) logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		OutputFile: c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   true,
	}
}

// persistHandle 统一关闭 badger / json 两种后端
type persistHandle struct {
	svc    persistence.Service
	closer func() error
}

func (p persistHandle) Service() persistence.Service { return p.svc }

func (p persistHandle) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func openPersistence(c config.PersistenceConfig) (persistHandle, error) {
	if c.Backend == "json" {
		return persistHandle{svc: persistence.NewJSONFileService(filepath.Join(c.Dir, "state"))}, nil
	}
	svc, err := persistence.OpenBadger(persistence.BadgerOptions{
		Path: filepath.Join(c.Dir, "state.badger"),
		TTL:  time.Duration(c.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		return persistHandle{}, err
	}
	return persistHandle{svc: svc, closer: svc.Close}, nil
}

func aggregatorConfig(cfg *config.Config) marketdata.Config {
	md := cfg.MarketData
	return marketdata.Config{
		StaleAfter:        ms(md.StaleAfterMs),
		LiquidityFloorUSD: md.LiquidityFloorUSD,
		PingInterval:      ms(md.PingIntervalMs),
		BackoffBase:       ms(md.BackoffBaseMs),
		BackoffMax:        ms(md.BackoffMaxMs),
		LatencyWeight:     md.LatencyWeight,
		DepthLevels:       md.DepthLevels,
		ProxyURL:          cfg.ProxyURL,
	}
}

func codecs(cfg *config.Config) []marketdata.Codec {
	var out []marketdata.Codec
	for _, v := range cfg.EnabledVenues() {
		switch v.Name {
		case "binance":
			out = append(out, marketdata.NewBinanceCodec(v.WSURL))
		case "okx":
			out = append(out, marketdata.NewOKXCodec(v.WSURL))
		case "bybit":
			out = append(out, marketdata.NewBybitCodec(v.WSURL, cfg.MarketData.DepthLevels))
		}
	}
	return out
}

// restCapable 有 Binance 兼容的 REST 下单接口
func restCapable(v config.VenueConfig) bool {
	return v.Name == "binance" || v.RESTBaseURL != ""
}

func buildVenues(cfg *config.Config, depth ports.DepthSource) (map[string]ports.Venue, error) {
	creds, closeSecrets, err := credentialLoader(cfg.Persistence.SecretsDir)
	if err != nil {
		return nil, err
	}
	defer closeSecrets()

	out := make(map[string]ports.Venue)
	for _, vc := range cfg.EnabledVenues() {
		var rest *venue.RESTVenue
		if restCapable(vc) {
			c := venue.RESTConfig{
				Name:            vc.Name,
				BaseURL:         vc.RESTBaseURL,
				WeightPerMinute: vc.Weight,
				ProxyURL:        cfg.ProxyURL,
			}
			if !cfg.DryRun {
				cr, err := creds(vc.Name)
				if err != nil {
					return nil, err
				}
				c.APIKey, c.APISecret = cr.APIKey, cr.APISecret
			}
			rest, err = venue.NewRESTVenue(c)
			if err != nil {
				return nil, err
			}
		}

		if cfg.DryRun {
			pc := venue.PaperConfig{Name: vc.Name}
			if rest != nil {
				pc.Rules = rest
			}
			out[vc.Name] = venue.NewPaperVenue(pc, depth)
			logrus.Infof("[%s] 纸面交易", vc.Name)
			continue
		}
		if rest == nil {
			logrus.Warnf("[%s] 没有下单适配器，仅提供行情", vc.Name)
			continue
		}
		if !rest.Authenticated() {
			return nil, errors.Errorf("%s 缺少 API 凭证（运行 secrets-import 或设置 %s_API_KEY/%s_API_SECRET）",
				vc.Name, strings.ToUpper(vc.Name), strings.ToUpper(vc.Name))
		}
		out[vc.Name] = rest
		logrus.Infof("[%s] 实盘下单", vc.Name)
	}
	return out, nil
}

// credentialLoader 有 EXECBOT_SECRET_KEY 时从加密 badger 读取，否则读环境变量
func credentialLoader(dir string) (func(venue string) (secretstore.Credentials, error), func(), error) {
	key, err := secretstore.ParseKey(os.Getenv("EXECBOT_SECRET_KEY"))
	if err != nil {
		return nil, nil, err
	}
	fromEnv := func(name string) (secretstore.Credentials, error) {
		return secretstore.Credentials{
			APIKey:     os.Getenv(secretstore.VenueKey("", name, "API_KEY")),
			APISecret:  os.Getenv(secretstore.VenueKey("", name, "API_SECRET")),
			Passphrase: os.Getenv(secretstore.VenueKey("", name, "API_PASSPHRASE")),
		}, nil
	}
	if key == nil {
		return fromEnv, func() {}, nil
	}
	if _, err := os.Stat(dir); err != nil {
		logrus.Warnf("密钥库 %s 不存在，改用环境变量", dir)
		return fromEnv, func() {}, nil
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{Path: dir, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "open secret store")
	}
	load := func(name string) (secretstore.Credentials, error) {
		c, err := ss.LoadCredentials(secretPrefix, name)
		if err != nil {
			return c, err
		}
		if c.Empty() {
			return fromEnv(name)
		}
		return c, nil
	}
	return load, func() { _ = ss.Close() }, nil
}

func riskConfig(cfg *config.Config) risk.Config {
	rk := cfg.Risk
	return risk.Config{
		Mode:                 risk.Mode(cfg.Mode),
		ReferenceNotionalUSD: rk.ReferenceNotionalUSD,
		DailyLossLimitPct:    rk.DailyLossLimitPct,
		MaxConsecutiveLosses: rk.MaxConsecutiveLosses,
		CircuitBreaker:       ms(rk.CircuitBreakerMs),
		CooldownLossStreak:   rk.CooldownLossStreak,
		Cooldown:             ms(rk.CooldownMs),
		MinSignalInterval:    ms(rk.MinSignalIntervalMs),
		SpikeMovePct:         rk.SpikeMovePct,
		SpikeWindow:          ms(rk.SpikeWindowMs),
		SpikeVolumeRatio:     rk.SpikeVolumeRatio,
		SpikeFreeze:          ms(rk.SpikeFreezeMs),
		SentimentExtreme:     rk.SentimentExtreme,
		RegulatoryExtreme:    rk.RegulatoryExtreme,
		NewsFreeze:           ms(rk.NewsFreezeMs),
	}
}

func sizingConfig(sz config.SizingConfig) sizing.Config {
	return sizing.Config{
		EquityUSD:          sz.EquityUSD,
		KellyCap:           sz.KellyCap,
		LeverageMax:        sz.LeverageMax,
		TargetVolPct:       sz.TargetVolPct,
		NotionalCeilingUSD: sz.NotionalCeilingUSD,
		DailyTargetUSD:     sz.DailyTargetUSD,
		PlannedTrades:      sz.PlannedTrades,
		MinTradeTargetUSD:  sz.MinTradeTargetUSD,
		MaxTradeTargetUSD:  sz.MaxTradeTargetUSD,
	}
}

func executionConfig(cfg *config.Config) execution.Config {
	ex := cfg.Execution
	fees := make(map[string]float64, len(cfg.Venues))
	for _, v := range cfg.EnabledVenues() {
		fees[v.Name] = v.FeePct
	}
	return execution.Config{
		MaxSpreadBps:            ex.MaxSpreadBps,
		MinDepthUSD:             ex.MinDepthUSD,
		DepthMultiplier:         ex.DepthMultiplier,
		UltraLowBalanceUSD:      ex.UltraLowBalanceUSD,
		UltraLowMinDepthUSD:     ex.UltraLowMinDepthUSD,
		UltraLowDepthMultiplier: ex.UltraLowDepthMultiplier,
		LadderLevels:            ex.LadderLevels,
		LadderStepBps:           ex.LadderStepBps,
		LadderFractions:         ex.LadderFractions,
		Timebox:                 ms(ex.TimeboxMs),
		FillPollInterval:        ms(ex.FillPollMs),
		MinMakerFillProb:        ex.MinMakerFillProb,
		SweepMaxChunks:          ex.SweepMaxChunks,
		SweepChunkDelay:         ms(ex.SweepChunkDelayMs),
		MonitorMaxDuration:      ms(ex.MonitorMaxMs),
		MonitorPollInterval:     ms(ex.MonitorPollMs),
		PartialCloseFraction:    ex.PartialCloseFraction,
		PartialTriggerRatio:     ex.PartialTriggerRatio,
		TrailingStopBps:         ex.TrailingStopBps,
		FeesPct:                 fees,
		CancelTimeout:           ms(ex.CancelTimeoutMs),
	}
}

func averageFeePct(cfg *config.Config) float64 {
	vs := cfg.EnabledVenues()
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v.FeePct
	}
	return sum / float64(len(vs))
}
