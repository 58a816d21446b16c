package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellisproc/trellis/pkg/api"
	"github.com/trellisproc/trellis/pkg/config"
	"github.com/trellisproc/trellis/pkg/datasource"
	"github.com/trellisproc/trellis/pkg/engine"
	"github.com/trellisproc/trellis/pkg/events"
	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/notify"
	"github.com/trellisproc/trellis/pkg/owsproxy"
	"github.com/trellisproc/trellis/pkg/pack"
	"github.com/trellisproc/trellis/pkg/provider"
	"github.com/trellisproc/trellis/pkg/runtime"
	"github.com/trellisproc/trellis/pkg/security"
	"github.com/trellisproc/trellis/pkg/staging"
	"github.com/trellisproc/trellis/pkg/status"
	"github.com/trellisproc/trellis/pkg/storage"
	"github.com/trellisproc/trellis/pkg/workspace"
	"github.com/trellisproc/trellis/pkg/wps"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trellis service",
	Long: `Run the trellis service: the HTTP API, the WPS endpoint, the
job execution engine and its janitor.

The deployment role comes from the configuration: an ADES runs
application containers locally, an EMS dispatches workflow steps to
the deployment services named in its data-source table.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Configuration file (YAML, JSON or INI)")
	serveCmd.Flags().String("listen", "", "Bind address, overrides api.listen")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := config.LoadConfig(path); err != nil {
			return &exitError{exitConfig, fmt.Errorf("load configuration %s: %w", path, err)}
		}
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		config.SetValue("api.listen", listen)
	}

	log.Init(log.Config{
		Level:      config.GetLogLevel(),
		JSONOutput: config.IsLogJSON(),
	})
	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Str("role", config.GetConfiguration()).
		Msg("starting trellis")

	store, err := storage.NewBoltStore(config.GetDataDir())
	if err != nil {
		return &exitError{exitStore, fmt.Errorf("open store: %w", err)}
	}
	defer store.Close()

	publicURL := config.GetPublicURL()
	outputDir := config.GetOutputDir()
	outputURL := config.GetOutputURL()
	wpsPath := config.GetWPSPath()

	// The served output tree and the scratch root must exist before the
	// first job lands.
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return &exitError{exitWPSSetup, fmt.Errorf("create output dir: %w", err)}
	}
	spaces, err := workspace.NewLocalDriver(config.GetWorkDir())
	if err != nil {
		return &exitError{exitWPSSetup, fmt.Errorf("create workdir root: %w", err)}
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	var replicator staging.Replicator
	if bucket := config.GetOutputS3Bucket(); bucket != "" {
		replicator, err = staging.NewS3Replicator(bucket, config.GetOutputS3Region())
		if err != nil {
			return &exitError{exitConfig, fmt.Errorf("s3 replication: %w", err)}
		}
		logger.Info().Str("bucket", bucket).Msg("output replication to S3 enabled")
	}

	var secrets *security.SecretsManager
	if key := config.GetSecretKey(); key != "" {
		secrets, err = security.NewSecretsManagerFromPassword(key)
		if err != nil {
			return &exitError{exitConfig, fmt.Errorf("secret sealing: %w", err)}
		}
	}

	var notifier engine.Notifier
	if config.IsNotifyEnabled() {
		mailer, err := notify.NewMailer(notify.Config{
			Host:     config.GetSMTPHost(),
			Port:     config.GetSMTPPort(),
			Username: config.GetSMTPUser(),
			Password: config.GetSMTPPassword(),
			From:     config.GetNotifyFrom(),
			BaseURL:  publicURL,
		}, secrets)
		if err != nil {
			return &exitError{exitConfig, fmt.Errorf("notification: %w", err)}
		}
		notifier = mailer
	}

	var runner runtime.Runner
	if config.IsADES() {
		containerd, err := runtime.NewContainerdRunner(config.GetContainerdSocket())
		if err != nil {
			// Jobs that need a local container run will fail; remote
			// dispatch and provider jobs still work.
			logger.Warn().Err(err).Msg("containerd unreachable, local execution disabled")
		} else {
			defer containerd.Close()
			runner = containerd
		}
	}

	capabilitiesURL := publicURL + wpsPath + "?service=WPS&request=GetCapabilities"
	statusWriter := status.NewWriter(outputDir, outputURL, capabilitiesURL)
	loader := pack.NewLoader(httpClient)
	stager := staging.NewStager(outputDir, outputURL, httpClient, replicator)
	clients := wps.NewClientCache(httpClient)
	sources := datasource.NewRegistry(config.GetDataSourcesPath(), publicURL)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	eng, err := engine.New(engine.Config{
		Store:      store,
		Loader:     loader,
		Stager:     stager,
		Status:     statusWriter,
		Sources:    sources,
		Workspaces: spaces,
		Runner:     runner,
		Clients:    clients,
		Broker:     broker,
		Notifier:   notifier,
		HTTPClient: httpClient,
		EMS:        config.IsEMS(),
		OutputDir:  outputDir,
		Workers:    config.GetWorkers(),
		JobTimeout: time.Duration(config.GetJobTimeoutSecond()) * time.Second,
		Retention:  time.Duration(config.GetWorkdirRetentionHour()) * time.Hour,
	})
	if err != nil {
		return &exitError{exitConfig, err}
	}
	eng.Start()
	defer eng.Stop()

	server, err := api.NewServer(api.Config{
		Engine:        eng,
		Store:         store,
		Providers:     provider.NewRegistry(store, clients),
		Proxy:         owsproxy.New(store, httpClient),
		Loader:        loader,
		Clients:       clients,
		Secrets:       secrets,
		Status:        statusWriter,
		BaseURL:       publicURL,
		WPSPath:       wpsPath,
		OutputDir:     outputDir,
		OutputContext: config.GetOutputContext(),
		AuthRequired:  config.IsAuthRequired(),
		Version:       Version,
	})
	if err != nil {
		return &exitError{exitConfig, err}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(config.GetListenAddress()); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return &exitError{exitConfig, fmt.Errorf("api server: %w", err)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown incomplete")
	}
	return nil
}
