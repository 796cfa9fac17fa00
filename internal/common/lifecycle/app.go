package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"go.chronowheel.dev/internal/common/health"
	"go.chronowheel.dev/internal/common/secrets"
	"go.chronowheel.dev/internal/config"
	"go.chronowheel.dev/internal/queue"
	"go.chronowheel.dev/internal/queue/nats"
	"go.chronowheel.dev/internal/queue/sqs"
)

// App holds initialized infrastructure that is guaranteed to be connected.
// If you have an *App, you know its dependencies are reachable and ready.
//
// This is NOT a god object - it just holds the "dangerous" infrastructure
// that requires connection/retry logic. Application logic should NOT go here.
type App struct {
	Config *config.Config

	// Secrets backs the JWT signing key and any other operator secret.
	Secrets secrets.Provider

	// Publisher fans fired jobs out to the configured downstream queue:
	// an embedded NATS JetStream server by default, or external NATS/SQS.
	Publisher queue.Publisher

	// QueueHealthCheck probes the downstream queue connection for
	// readiness. Nil when the queue is the in-process embedded server,
	// which has no network dependency to probe.
	QueueHealthCheck health.CheckFunc

	// Internal cleanup - call AddCleanup to register cleanup functions
	cleanupFuncs []func() error
}

// AppOptions configures which infrastructure to initialize.
type AppOptions struct {
	// NeedsSecrets indicates a secrets provider must be constructed.
	NeedsSecrets bool

	// NeedsQueue indicates a downstream queue publisher must be connected.
	NeedsQueue bool
}

// Initialize creates an App with connected infrastructure.
// Returns an error if any required connection fails.
//
// Usage:
//
//	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{
//	    NeedsSecrets: true,
//	    NeedsQueue:   true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func Initialize(ctx context.Context, opts AppOptions) (*App, func(), error) {
	app := &App{}

	cfg, err := config.LoadWithFile()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	if opts.NeedsSecrets {
		if err := app.initSecrets(); err != nil {
			app.Cleanup()
			return nil, nil, err
		}
	}

	if opts.NeedsQueue {
		if err := app.initQueue(ctx); err != nil {
			app.Cleanup()
			return nil, nil, err
		}
	}

	cleanup := func() {
		app.Cleanup()
	}

	return app, cleanup, nil
}

// AddCleanup registers a cleanup function to be called on shutdown.
// Functions are called in reverse order of registration.
func (app *App) AddCleanup(fn func() error) {
	app.cleanupFuncs = append(app.cleanupFuncs, fn)
}

// initSecrets constructs the configured secrets.Provider.
func (app *App) initSecrets() error {
	cfg := app.Config

	secretsCfg := &secrets.Config{
		Provider:      secrets.ProviderType(cfg.Secrets.Provider),
		EncryptionKey: cfg.Secrets.EncryptionKey,
		DataDir:       cfg.Secrets.DataDir,
		AWSRegion:     cfg.Secrets.AWSRegion,
		AWSPrefix:     cfg.Secrets.AWSPrefix,
		AWSEndpoint:   cfg.Secrets.AWSEndpoint,
		VaultAddr:     cfg.Secrets.VaultAddr,
		VaultPath:     cfg.Secrets.VaultPath,
		VaultNamespace: cfg.Secrets.VaultNamespace,
		GCPProject:    cfg.Secrets.GCPProject,
		GCPPrefix:     cfg.Secrets.GCPPrefix,
	}

	provider, err := secrets.NewProvider(secretsCfg)
	if err != nil {
		return fmt.Errorf("failed to construct secrets provider %q: %w", cfg.Secrets.Provider, err)
	}

	slog.Info("Secrets provider ready", "provider", provider.Name())
	app.Secrets = provider
	return nil
}

// initQueue connects the configured downstream queue publisher. The queue
// type is resolved through a queue.Factory rather than switching on the raw
// config string directly, so "" and "embedded" share one code path.
func (app *App) initQueue(ctx context.Context) error {
	cfg := app.Config
	factory := queue.NewFactory(&queue.Config{Type: cfg.Queue.Type})

	switch {
	case factory.IsEmbedded():
		embeddedCfg := nats.DefaultEmbeddedConfig()
		embeddedCfg.DataDir = cfg.Queue.NATS.DataDir
		server, err := nats.NewEmbeddedServer(embeddedCfg)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}
		app.Publisher = server.Publisher()
		app.AddCleanup(func() error {
			slog.Info("Closing embedded NATS server")
			return server.Close()
		})
		slog.Info("Started embedded NATS server", "dataDir", embeddedCfg.DataDir)
		return nil

	case factory.IsNATS():
		natsCfg := &queue.NATSConfig{
			URL:        cfg.Queue.NATS.URL,
			StreamName: "CHRONOWHEEL_FIRED",
		}
		client, err := nats.NewClient(natsCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		app.Publisher = client.Publisher()
		app.QueueHealthCheck = health.NATSCheck(client.IsConnected)
		app.AddCleanup(func() error {
			slog.Info("Closing NATS client")
			return client.Close()
		})
		slog.Info("Connected to NATS", "url", cfg.Queue.NATS.URL)
		return nil

	case factory.IsSQS():
		sqsCfg := &queue.SQSConfig{
			QueueURL:          cfg.Queue.SQS.QueueURL,
			Region:            cfg.Queue.SQS.Region,
			WaitTimeSeconds:   int32(cfg.Queue.SQS.WaitTimeSeconds),
			VisibilityTimeout: int32(cfg.Queue.SQS.VisibilityTimeout),
		}
		client, err := sqs.NewClient(ctx, sqsCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to SQS: %w", err)
		}
		app.Publisher = client.Publisher()
		app.QueueHealthCheck = health.SQSCheck(func() error {
			return client.HealthCheck(context.Background())
		})
		app.AddCleanup(func() error {
			slog.Info("Closing SQS client")
			return client.Close()
		})
		slog.Info("Connected to SQS", "queueUrl", cfg.Queue.SQS.QueueURL)
		return nil

	default:
		return fmt.Errorf("unknown queue type: %s", cfg.Queue.Type)
	}
}

// Cleanup runs all cleanup functions in reverse order.
func (app *App) Cleanup() {
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		if err := app.cleanupFuncs[i](); err != nil {
			slog.Error("Cleanup error", "error", err)
		}
	}
}
