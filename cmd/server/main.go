package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"kiro-broker/internal/admin"
	"kiro-broker/internal/balance"
	"kiro-broker/internal/cloudpass"
	"kiro-broker/internal/config"
	"kiro-broker/internal/constants"
	"kiro-broker/internal/credential"
	"kiro-broker/internal/events"
	"kiro-broker/internal/kiro"
	"kiro-broker/internal/logging"
	"kiro-broker/internal/middleware"
	"kiro-broker/internal/oauth"
	"kiro-broker/internal/runtime"
	srv "kiro-broker/internal/server"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logging isn't configured yet; this goes to logrus's default stderr writer.
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Debug = true
	}

	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	logging.InstallWebSocketLogging()
	log.Infof("starting kiro-broker %s (config: %s)", constants.GetVersion(), *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub()
	if cfg.Debug {
		hub.Subscribe(events.TopicCredentialRotated, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Debugf("credential event: %v", evt.Payload)
		})
	}

	store := credential.NewStore(cfg.CredentialsFile)

	oauthMgr := oauth.NewManager()
	usageClient := kiro.NewUsageClient(
		kiro.UsageEndpoint{
			RegionURLFunc: func(region string) string {
				return "https://codewhisperer." + region + ".amazonaws.com/getUsageLimits"
			},
		},
		kiro.WithGlobalRegions(cfg.Region, cfg.AuthRegion, cfg.APIRegion),
	)

	credMgr := credential.NewManager(credential.Options{
		Store:             store,
		Refresher:         &oauthRefresher{manager: oauthMgr},
		UsageProbe:        usageClient,
		Publisher:         hub,
		FailureThreshold:  uint32(cfg.FailureThreshold),
		RefreshSkew:       time.Duration(cfg.RefreshSkewSeconds) * time.Second,
		LoadBalancingMode: credential.LoadBalancingMode(cfg.LoadBalancingMode),
		TokenURI:          cfg.TokenURI,
	})
	if err := credMgr.Load(); err != nil {
		log.WithError(err).Warn("failed to load persisted credentials; starting from an empty pool")
	}

	balanceCache := balance.NewCache(cfg.BalanceCacheFile)
	balanceCache.Load()
	adminSvc := admin.NewService(credMgr, balanceCache)

	watcher := config.NewWatcher(*configPath, cfg)
	watcher.OnChange(func(next *config.Config) {
		if err := credMgr.SetLoadBalancingMode(credential.LoadBalancingMode(next.LoadBalancingMode)); err != nil {
			log.WithError(err).Warn("config hot-reload: failed to apply load balancing mode")
		}
	})
	watcher.Start()
	defer watcher.Stop()

	tasks := runtime.NewTaskManager(ctx)

	_ = tasks.Start("credential-refresh", "periodic expiring-credential refresh", func(taskCtx context.Context) error {
		return credMgr.StartPeriodicRefresh(taskCtx, constants.CredentialRefreshInterval)
	})

	var cloudPassState *cloudpass.State
	if cfg.CloudPass != nil {
		cpClient, err := cloudpass.New(cloudpass.Config{
			ServerURL:     cfg.CloudPass.ServerURL,
			LicenseCode:   cfg.CloudPass.LicenseCode,
			DeviceID:      cfg.CloudPass.DeviceID,
			ClientVersion: cfg.CloudPass.ClientVersion,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to construct cloud pass client")
		}

		cloudPassState = cloudpass.NewState(
			cfg.CloudPass.ServerURL,
			cpClient.DeviceID(),
			cfg.CloudPass.LicenseCode,
			cfg.CloudPass.RefreshInterval,
			cfg.CloudPass.Reassign,
			cfg.CloudPass.ClientVersion,
		)
		cloudPassState.SetPublisher(hub)

		worker := cloudpass.NewWorker(
			cpClient,
			credMgr,
			cloudPassState,
			time.Duration(cfg.CloudPass.RefreshInterval)*time.Second,
			cfg.CloudPass.Reassign,
			cfg.CloudPass.MachineID,
		)
		_ = tasks.Start("cloud-pass-worker", "cloud pass credential sync", worker.Run)
	} else {
		cloudPassState = cloudpass.Disabled()
	}

	engine := srv.New(srv.Dependencies{
		Service:         adminSvc,
		Hub:             hub,
		CloudPass:       cloudPassState,
		AdminKeyValidator:   func(candidate string) bool { return config.CheckAdminKey(watcher.Current(), candidate) },
		AdminKeyUnprotected: func() string {
			cur := watcher.Current()
			if config.AdminKeyConfigured(cur) {
				return "set"
			}
			return ""
		},
		RateLimitRPS:    5,
		RateBurst:       10,
	})

	httpSrv := &http.Server{
		Addr:    cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Handler: engine,
	}

	middleware.SafeGoWithContext("admin-http-server", func() {
		log.Infof("admin API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin server stopped unexpectedly")
		}
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("admin server shutdown did not complete cleanly")
	}

	cancel()
	tasks.StopAll()
	tasks.Wait()
	log.Info("kiro-broker stopped")
}
