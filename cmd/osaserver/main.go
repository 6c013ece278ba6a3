// Command osaserver runs the deposition platform's event-driven core:
// the outbox-backed worker pool, the OCI hook/source runners, the source
// scheduler, and the metrics endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensciencearchive/server/domain/authz"
	"github.com/opensciencearchive/server/domain/event"
	"github.com/opensciencearchive/server/infrastructure/config"
	"github.com/opensciencearchive/server/infrastructure/database"
	"github.com/opensciencearchive/server/infrastructure/featurestore"
	"github.com/opensciencearchive/server/infrastructure/logging"
	"github.com/opensciencearchive/server/infrastructure/metrics"
	"github.com/opensciencearchive/server/infrastructure/oci"
	"github.com/opensciencearchive/server/infrastructure/storage"
	"github.com/opensciencearchive/server/services/deposition"
	"github.com/opensciencearchive/server/services/feature"
	"github.com/opensciencearchive/server/services/handlers"
	"github.com/opensciencearchive/server/services/outbox"
	"github.com/opensciencearchive/server/services/source"
	"github.com/opensciencearchive/server/services/validation"
	"github.com/opensciencearchive/server/services/worker"
)

func main() {
	log := logging.NewFromEnv("osaserver")
	if err := run(log); err != nil {
		log.WithError(err).Fatal("server exited with error")
	}
}

func run(log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	node, err := config.LoadNode(cfg.NodeFile)
	if err != nil {
		return err
	}

	// Startup validation: the policy set must cover every action and
	// every command handler must declare its gate, or the process exits.
	policy := authz.DefaultPolicySet(log)
	if err := policy.ValidateCoverage(); err != nil {
		return err
	}
	if err := authz.ValidateGates(handlers.CommandGates()); err != nil {
		return err
	}

	db, err := database.Open(ctx, cfg.DatabaseURL, database.Options{
		MaxConnections: cfg.DBMaxConnections,
		IdleTimeout:    cfg.DBIdleTimeout,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	m := metrics.New()
	files := storage.New(cfg.DataDir)

	docker, err := oci.NewDockerClient()
	if err != nil {
		return err
	}
	defer docker.Close()

	runner := oci.NewRunner(docker, log)
	if cfg.HostDataDir != "" {
		runner = runner.WithHostDataDir(cfg.HostDataDir, cfg.DataDir)
	}

	features := feature.NewService(featurestore.NewStore(db, log), log)
	if err := features.EnsureTables(ctx, node.AllHooks()); err != nil {
		return err
	}

	// The subscription registry derives from the handler list's shape
	// alone, so a dependency-free registry call breaks the construction
	// cycle between the outbox store and the handlers.
	kw := &handlers.LogIndexBackend{Backend: handlers.BackendKeyword, Log: log}
	vec := &handlers.LogIndexBackend{Backend: handlers.BackendVector, Log: log}
	shape := handlers.Registry(handlers.Deps{Log: log, Keyword: kw, Vector: vec})
	subs := make([]outbox.Subscription, 0, len(shape))
	for _, h := range shape {
		subs = append(subs, outbox.Subscription{EventType: h.EventType(), Group: h.Name()})
	}
	registry, err := outbox.NewSubscriptionRegistry(subs)
	if err != nil {
		return err
	}
	store := outbox.NewStore(db, registry, log)

	depositions := deposition.NewService(deposition.NewRepository(db), store, policy, cfg.NodeDomain, log)
	validations := validation.NewService(validation.NewRepository(db), runner, files, cfg.NodeDomain, log)
	sources := source.NewService(node, runner, files, store, conventionResolver(node), log)

	handlerList := handlers.Registry(handlers.Deps{
		Depositions: depositions,
		Validations: validations,
		Features:    features,
		Source:      sources,
		Outbox:      store,
		Node:        node,
		Sources:     node.Sources,
		Storage:     files,
		Keyword:     kw,
		Vector:      vec,
		Log:         log,
	})

	listener, err := outbox.NewListener(cfg.DatabaseURL, log)
	if err != nil {
		// Workers fall back to pure polling.
		log.WithError(err).Warn("outbox listener unavailable")
	} else {
		defer listener.Close()
	}

	defaults := worker.DefaultConfig()
	defaults.PollInterval = cfg.WorkerPollInterval
	defaults.ClaimTimeout = cfg.WorkerClaimTimeout
	defaults.MaxRetries = cfg.WorkerMaxRetries

	opts := worker.Options{
		Defaults:        defaults,
		JanitorInterval: cfg.JanitorInterval,
		Retention:       cfg.DeliveryRetention,
		Pruner:          store,
	}
	if listener != nil {
		opts.Notifier = listener
	}
	pool, err := worker.NewPool(store, handlerList, opts, log, m)
	if err != nil {
		return err
	}

	scheduler := source.NewScheduler(sources, store, log)
	for _, src := range node.Sources {
		if err := scheduler.Register(src); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.MetricsEnabled {
		go serveMetrics(cfg.MetricsPort, m, log)
	}

	started, err := event.New(&event.ServerStarted{StartedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := store.AppendNew(ctx, started); err != nil {
		return err
	}

	log.WithField("handlers", len(handlerList)).Info("server started")
	pool.Run(ctx)
	return nil
}

// conventionResolver maps every source to the node's first declared
// convention, or "" when the node declares none; the source name is not
// consulted. The node file binds sources to conventions implicitly: a single-tenant
// node declares one convention per source pipeline.
func conventionResolver(node *config.NodeConfig) func(string) string {
	return func(sourceName string) string {
		if len(node.Conventions) > 0 {
			return node.Conventions[0].SRN
		}
		return ""
	}
}

func serveMetrics(port int, m *metrics.Metrics, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	log.WithField("addr", addr).Info("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}
