package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"invisible/internal/config"
	"invisible/internal/exchange"
	"invisible/internal/health"
	"invisible/internal/keys"
	"invisible/internal/logging"
	"invisible/internal/metrics"
	"invisible/internal/store"
	"invisible/internal/wallet"
)

// daemon holds every component built from the config. close releases them in reverse order.
type daemon struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *metrics.Collector
	health   *health.Checker
	provider store.Provider
	persist  *store.Dispatcher
	backend  exchange.Backend
	session  *wallet.Session
	closers  []func() error
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String(configFlag.Name), ctx.StringSlice(envFileFlag.Name)...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newDaemon wires the components. It does not log in.
func newDaemon(ctx *cli.Context) (*daemon, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.AuditLogPath
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFile, auditPath)
	if err != nil {
		return nil, fmt.Errorf("open logs: %w", err)
	}
	d := &daemon{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewCollector(),
		health:  health.NewChecker(version, 5*time.Second),
	}
	d.closers = append(d.closers, log.Close)

	if err := d.openStore(); err != nil {
		d.close()
		return nil, err
	}
	if err := d.openExchange(); err != nil {
		d.close()
		return nil, err
	}

	id, err := identity(cfg)
	if err != nil {
		d.close()
		return nil, err
	}
	d.session = wallet.NewSession(id, d.persist,
		wallet.WithLogger(log),
		wallet.WithMetrics(d.metrics),
		wallet.WithScanner(d.backend),
	)
	return d, nil
}

func identity(cfg *config.Config) (*keys.Identity, error) {
	priv, err := cfg.PrivKeyInt()
	if err != nil {
		return nil, err
	}
	return keys.FromPrivKey(priv, keys.WithCacheSize(cfg.KeyCacheSize))
}

func (d *daemon) openStore() error {
	sc := d.cfg.Store
	switch sc.Backend {
	case "memory":
		d.provider = store.NewMemory()
	case "leveldb":
		p, err := store.NewLevelDB(sc.LevelDBPath)
		if err != nil {
			return fmt.Errorf("open leveldb %s: %w", sc.LevelDBPath, err)
		}
		d.provider = p
	case "redis":
		d.provider = store.NewRedis(store.RedisOptions{Addr: sc.RedisAddr, Password: sc.RedisPassword, DB: sc.RedisDB})
	default:
		return fmt.Errorf("unknown store backend %q", sc.Backend)
	}
	d.closers = append(d.closers, d.provider.Close)

	d.persist = store.NewDispatcher(d.provider, store.DispatcherOptions{
		QueueSize:   d.cfg.Persist.QueueSize,
		MaxAttempts: d.cfg.Persist.MaxAttempts,
		Backoff:     d.cfg.Persist.Backoff(),
	}, d.log, d.metrics)
	d.closers = append(d.closers, func() error {
		d.persist.Close()
		return nil
	})
	d.health.Register("store", d.provider.Ping)
	return nil
}

func (d *daemon) openExchange() error {
	ec := d.cfg.Exchange
	switch ec.Backend {
	case "memory":
		d.backend = exchange.NewMemoryBackend()
	case "nats":
		c, err := exchange.NewNatsClient(exchange.NatsOptions{
			URL:           ec.NatsURL,
			SubjectPrefix: ec.SubjectPrefix,
			Timeout:       ec.RequestTimeout(),
			SubmitRate:    ec.SubmitRate,
			SubmitBurst:   ec.SubmitBurst,
		}, d.log, d.metrics)
		if err != nil {
			return fmt.Errorf("connect exchange: %w", err)
		}
		d.backend = c
		d.closers = append(d.closers, c.Close)
	default:
		return fmt.Errorf("unknown exchange backend %q", ec.Backend)
	}
	d.health.Register("exchange", d.backend.Ping)
	return nil
}

func (d *daemon) login(ctx context.Context) error {
	if err := d.session.Login(ctx, d.provider); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := d.session.Reconcile(ctx, d.backend); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	return nil
}

// close flushes pending writes and releases everything that was opened.
func (d *daemon) close() {
	if d.persist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.persist.Flush(ctx); err != nil {
			d.log.Warn().Err(err).Msg("pending writes not flushed")
		}
		cancel()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Warn().Err(err).Msg("close failed")
		}
	}
}
