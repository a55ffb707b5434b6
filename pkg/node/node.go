// Package node wires the prover node's components together and runs
// them as a single task set, following the teacher's main.go
// context.WithCancel-plus-signal.Notify shutdown idiom.
package node

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cypherpepe/prism/pkg/batcher"
	"github.com/cypherpepe/prism/pkg/config"
	"github.com/cypherpepe/prism/pkg/da"
	dafirestore "github.com/cypherpepe/prism/pkg/da/firestore"
	"github.com/cypherpepe/prism/pkg/da/memory"
	"github.com/cypherpepe/prism/pkg/epoch"
	"github.com/cypherpepe/prism/pkg/keys"
	"github.com/cypherpepe/prism/pkg/metrics"
	"github.com/cypherpepe/prism/pkg/storage"
	"github.com/cypherpepe/prism/pkg/storage/kvdb"
	"github.com/cypherpepe/prism/pkg/storage/postgres"
	"github.com/cypherpepe/prism/pkg/sync"
	"github.com/cypherpepe/prism/pkg/tree"
)

// Node holds the constructed components of a running prover node.
type Node struct {
	cfg        *config.Config
	signingKey keys.SigningKey

	store   *storage.Store
	tree    *tree.Tree
	da      da.Adapter
	metrics *metrics.Registry
	logger  *log.Logger

	engine    *sync.Engine
	finalizer *epoch.Finalizer
	batcher   *batcher.Batcher
}

// New constructs a Node from cfg, opening the configured persistence and
// DA backends and loading or generating the node's signing key.
func New(cfg *config.Config) (*Node, error) {
	logger := log.New(os.Stdout, "[node] ", log.LstdFlags)

	signingKey, err := keys.LoadOrGenerateSigningKey(cfg.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("node: load signing key: %w", err)
	}

	kv, err := openPersistence(cfg)
	if err != nil {
		return nil, err
	}

	store := storage.NewStore(kv)
	stateTree, err := tree.NewTree(kv)
	if err != nil {
		return nil, fmt.Errorf("node: open tree: %w", err)
	}

	daAdapter, err := openDA(cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := metrics.New()

	var finalizer *epoch.Finalizer
	if cfg.ProverEnabled {
		finalizer = epoch.New(epoch.Config{
			Tree:          stateTree,
			Store:         store,
			DA:            daAdapter,
			SigningKey:    signingKey,
			Metrics:       reg,
			Logger:        log.New(os.Stdout, "[epoch] ", log.LstdFlags),
			SubmitRetries: cfg.DASubmitRetries,
			SubmitBackoff: cfg.DASubmitBackoff,
		})
		if err := finalizer.Setup(); err != nil {
			return nil, fmt.Errorf("node: epoch circuit setup: %w", err)
		}
	}

	var syncFinalizer sync.Finalizer
	if finalizer != nil {
		syncFinalizer = finalizer
	}

	engine := sync.New(sync.Config{
		Store:       store,
		Tree:        stateTree,
		DA:          daAdapter,
		Finalizer:   syncFinalizer,
		Metrics:     reg,
		StartHeight: cfg.StartHeight,
		Logger:      log.New(os.Stdout, "[sync] ", log.LstdFlags),
	})

	var b *batcher.Batcher
	if cfg.BatcherEnabled {
		b = batcher.New(batcher.Config{
			Tree:          stateTree,
			DA:            daAdapter,
			Enabled:       true,
			Metrics:       reg,
			Logger:        log.New(os.Stdout, "[batcher] ", log.LstdFlags),
			MaxBatchSize:  cfg.BatchMaxSize,
			SubmitRetries: cfg.DASubmitRetries,
			SubmitBackoff: cfg.DASubmitBackoff,
		})
	}

	return &Node{
		cfg:        cfg,
		signingKey: signingKey,
		store:      store,
		tree:       stateTree,
		da:         daAdapter,
		metrics:    reg,
		logger:     logger,
		engine:     engine,
		finalizer:  finalizer,
		batcher:    b,
	}, nil
}

// Batcher returns the node's batcher, or nil if disabled. Exposed so an
// external API server can validate and queue client-submitted operations.
func (n *Node) Batcher() *batcher.Batcher {
	return n.batcher
}

// Metrics returns the node's metrics registry.
func (n *Node) Metrics() *metrics.Registry {
	return n.metrics
}

// Run starts the DA adapter and the node's long-lived tasks (sync engine,
// and conditionally the batcher and web server) and blocks until any one
// of them exits, at which point it cancels the rest and returns the
// first error observed. There is no automatic restart.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := n.da.Start(ctx); err != nil {
		return fmt.Errorf("node: start DA adapter: %w", err)
	}

	tasks := 1
	if n.cfg.BatcherEnabled {
		tasks++
	}
	var httpServer *http.Server
	if n.cfg.WebserverEnabled {
		tasks++
		httpServer = n.newHTTPServer()
	}

	results := make(chan error, tasks)

	go func() {
		results <- n.engine.Run(ctx)
	}()

	if n.cfg.BatcherEnabled {
		go func() {
			results <- n.batcher.Run(ctx)
		}()
	}

	if httpServer != nil {
		go func() {
			n.logger.Printf("metrics/API listening on %s", httpServer.Addr)
			err := httpServer.ListenAndServe()
			if err == http.ErrServerClosed {
				err = nil
			}
			results <- err
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var firstErr error
	select {
	case firstErr = <-results:
	case <-stop:
		n.logger.Printf("received shutdown signal")
	case <-ctx.Done():
		firstErr = ctx.Err()
	}

	cancel()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	return firstErr
}

func (n *Node) newHTTPServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.metrics.Gatherer(), promhttp.HandlerOpts{}))
	return &http.Server{Addr: n.cfg.WebserverAddr, Handler: mux}
}

func openPersistence(cfg *config.Config) (storage.KV, error) {
	switch cfg.PersistenceBackend {
	case config.PersistencePostgres:
		return postgres.Open(cfg.DatabaseURL)
	case config.PersistenceEmbedded, "":
		return kvdb.Open("prism", cfg.DataDir)
	default:
		return nil, fmt.Errorf("node: unknown persistence backend %q", cfg.PersistenceBackend)
	}
}

func openDA(cfg *config.Config, logger *log.Logger) (da.Adapter, error) {
	switch cfg.DABackend {
	case config.DAFirestore:
		return dafirestore.New(dafirestore.Config{
			ProjectID:       cfg.FirestoreProjectID,
			CredentialsFile: cfg.FirestoreCredentialsFile,
			Collection:      cfg.FirestoreCollection,
			PollInterval:    cfg.FirestorePollInterval,
			Logger:          log.New(os.Stdout, "[DA-firestore] ", log.LstdFlags),
		}), nil
	case config.DAMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("node: unknown DA backend %q", cfg.DABackend)
	}
}
