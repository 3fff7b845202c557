package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/satcat21/btc-mempaper-sub000/internal/config"
	"github.com/satcat21/btc-mempaper-sub000/internal/core/application"
	"github.com/satcat21/btc-mempaper-sub000/internal/core/domain"
	cachestorage "github.com/satcat21/btc-mempaper-sub000/internal/infrastructure/storage/cache"
	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer/esplora"
	"github.com/satcat21/btc-mempaper-sub000/pkg/monitor"
	krakenfeed "github.com/satcat21/btc-mempaper-sub000/pkg/pricefeed/kraken"
	boltsecurestore "github.com/satcat21/btc-mempaper-sub000/pkg/securestore/bolt"
)

const cacheDBFile = "cache.db"

func main() {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "walletd"
	app.Usage = "watch-only bitcoin wallet balance daemon"
	app.Commands = append(
		app.Commands,
		&cli.Command{
			Name:   "start",
			Usage:  "run the daemon, watching wallet balances in background",
			Action: start,
		},
		&cli.Command{
			Name:   "balance",
			Usage:  "compute the wallet total once and print it as JSON",
			Action: balance,
		},
	)

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("exiting")
	}
}

func start(_ *cli.Context) error {
	services, err := buildServices()
	if err != nil {
		return err
	}
	defer services.close()

	ctx := context.Background()

	entries, err := loadWalletEntries(config.GetString(config.WalletFileKey))
	if err != nil {
		return err
	}

	// first figure straight from the cache, full discovery follows in
	// background
	summary, err := services.discovery.ComputeTotal(ctx, entries, true)
	if err != nil {
		if errors.Is(err, domain.ErrAddressConflict) {
			return conflictError(summary)
		}
		return err
	}
	logSummary(summary)

	monitorSvc := monitor.NewService(monitor.Opts{
		ExplorerSvc:       services.explorerSvc,
		Interval:          config.GetSeconds(config.RefreshIntervalKey),
		RequestsPerSecond: config.GetFloat(config.ProbeRequestsPerSecondKey),
		ErrorHandler: func(err error) {
			log.WithError(err).Warn("monitor observation error")
		},
	})
	listener := application.NewBalanceListener(
		monitorSvc, services.cacheSvc, func(ctx context.Context) {
			summary, err := services.discovery.ComputeTotal(ctx, entries, true)
			if err != nil {
				log.WithError(err).Warn("failed to recompute wallet total")
				return
			}
			logSummary(summary)
		},
	)
	// Start blocks on the monitor's error channel until Stop
	go monitorSvc.Start()
	listener.Start()
	defer monitorSvc.Stop()
	defer listener.Stop()

	go watchEntries(ctx, services, listener, entries)

	log.Info("daemon started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down")
	return nil
}

func balance(_ *cli.Context) error {
	services, err := buildServices()
	if err != nil {
		return err
	}
	defer services.close()

	entries, err := loadWalletEntries(config.GetString(config.WalletFileKey))
	if err != nil {
		return err
	}

	summary, err := services.discovery.ComputeTotal(context.Background(), entries, false)
	if err != nil {
		if errors.Is(err, domain.ErrAddressConflict) {
			return conflictError(summary)
		}
		return err
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// watchEntries scans every extended key (reusing the cache when fresh) and
// registers the monitored subsets and plain addresses with the monitor.
func watchEntries(
	ctx context.Context, services *daemonServices,
	listener *application.BalanceListener, entries []domain.WalletEntry,
) {
	for _, entry := range entries {
		if entry.Kind == domain.ExtendedKey {
			if err := listener.SyncKey(ctx, entry.Value); err != nil {
				log.WithError(err).Warnf("failed to watch extended key")
			}
			continue
		}
		stats := services.probe.Probe(ctx, entry.Value)
		listener.WatchAddress(entry.Value, stats.BalanceSats())
	}
	log.Info("background discovery completed")
}

type daemonServices struct {
	explorerSvc explorer.Service
	probe       application.UsageProbe
	cacheSvc    *application.MonitoringCacheService
	discovery   *application.WalletDiscoveryService
	closeStore  func() error
}

func (s *daemonServices) close() {
	if s.closeStore != nil {
		if err := s.closeStore(); err != nil {
			log.WithError(err).Warn("failed to close cache store")
		}
	}
}

func buildServices() (*daemonServices, error) {
	if err := config.InitConfig(); err != nil {
		return nil, err
	}
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	explorerSvc, err := esplora.NewService(
		config.GetExplorerEndpoint(),
		config.GetSeconds(config.ExplorerRequestTimeoutKey),
	)
	if err != nil {
		return nil, fmt.Errorf("explorer unreachable: %w", err)
	}

	repo, closeStore, err := buildCacheRepository()
	if err != nil {
		return nil, err
	}

	probe := application.NewBalanceProbe(
		explorerSvc,
		config.GetChainParams(),
		config.GetInt(config.ProbeConcurrencyKey),
		config.GetFloat(config.ProbeRequestsPerSecondKey),
	)
	scanCfg := application.ScanConfig{
		GapLimit:              config.GetInt(config.GapLimitKey),
		BootstrapIncrement:    config.GetInt(config.BootstrapIncrementKey),
		StandardIncrement:     config.GetInt(config.StandardIncrementKey),
		BootstrapMaxAddresses: config.GetInt(config.BootstrapMaxAddressesKey),
	}
	scanner := application.NewGapLimitScanner(probe, scanCfg)
	cacheSvc := application.NewMonitoringCacheService(
		repo, scanner, probe, scanCfg, config.GetCacheMaxAge(),
	)
	feed := krakenfeed.NewService(
		"",
		config.GetSeconds(config.ExplorerRequestTimeoutKey),
		config.GetSeconds(config.PriceTTLKey),
	)
	discovery := application.NewWalletDiscoveryService(
		cacheSvc, probe, application.NewConflictDetector(cacheSvc),
		feed, config.GetString(config.FiatCurrencyKey),
	)

	return &daemonServices{
		explorerSvc: explorerSvc,
		probe:       probe,
		cacheSvc:    cacheSvc,
		discovery:   discovery,
		closeStore:  closeStore,
	}, nil
}

// buildCacheRepository opens the encrypted on-disk cache when a store
// password is configured, and falls back to a volatile in-memory cache
// otherwise.
func buildCacheRepository() (domain.MonitoringCacheRepository, func() error, error) {
	passwordFile := config.GetString(config.StorePasswordFileKey)
	if passwordFile == "" {
		log.Warn("no store password configured, cache will not survive restarts")
		return cachestorage.NewInMemoryRepository(), nil, nil
	}

	rawPassword, err := os.ReadFile(passwordFile)
	if err != nil {
		return nil, nil, fmt.Errorf("reading store password: %w", err)
	}
	password := bytes.TrimSpace(rawPassword)

	store, err := boltsecurestore.NewSecureStorage(config.GetDatadir(), cacheDBFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening cache store: %w", err)
	}
	if err := store.CreateUnlock(&password); err != nil {
		return nil, nil, fmt.Errorf("unlocking cache store: %w", err)
	}

	repo, err := cachestorage.NewSecureStoreRepository(store)
	if err != nil {
		return nil, nil, err
	}
	return repo, store.Close, nil
}

func loadWalletEntries(path string) ([]domain.WalletEntry, error) {
	if path == "" {
		return nil, fmt.Errorf("%s must be set", config.WalletFileKey)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading wallet file: %w", err)
	}
	var entries []domain.WalletEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parsing wallet file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("wallet file lists no entries")
	}
	return entries, nil
}

func conflictError(summary *domain.WalletBalanceSummary) error {
	for _, c := range summary.Conflicts {
		log.Errorf(
			"address %s duplicates index %d of extended key %s",
			c.Address, c.Index, c.ExtendedKey,
		)
	}
	return fmt.Errorf("wallet contains conflicting entries, refusing to aggregate")
}

func logSummary(summary *domain.WalletBalanceSummary) {
	entry := log.WithFields(log.Fields{
		"total_btc":          summary.TotalBTC.String(),
		"total_fiat":         summary.TotalFiat.String(),
		"fiat_currency":      summary.FiatCurrency,
		"duplicates_removed": summary.DuplicatesRemoved,
	})
	if summary.Incomplete {
		entry = entry.WithField("incomplete", true)
	}
	if len(summary.Pending) > 0 {
		entry = entry.WithField("pending_keys", len(summary.Pending))
	}
	entry.Info("wallet balance")
}
