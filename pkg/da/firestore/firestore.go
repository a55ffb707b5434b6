// Package firestore is a Firestore-backed DA adapter: each DA height is a
// document under a collection holding the operations blob and an
// optional finalized-epoch blob, and height subscription is implemented
// by polling the collection ordered by height, adapted from the
// teacher's pkg/firestore.Client no-op-when-disabled idiom.
package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cypherpepe/prism/pkg/da"
	"github.com/cypherpepe/prism/pkg/operation"
)

// Config configures the Firestore DA adapter.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Collection      string // defaults to "da_heights"
	PollInterval    time.Duration // defaults to 2s
	Logger          *log.Logger
}

func (cfg *Config) applyDefaults() {
	if cfg.Collection == "" {
		cfg.Collection = "da_heights"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[DA-firestore] ", log.LstdFlags)
	}
}

// heightDoc is the Firestore document shape for one DA height.
type heightDoc struct {
	Height         uint64 `firestore:"height"`
	OperationsJSON string `firestore:"operationsJson"`
	EpochJSON      string `firestore:"epochJson,omitempty"`
}

// Adapter implements da.Adapter against a Firestore collection.
type Adapter struct {
	cfg    Config
	app    *firebase.App
	client *gcpfirestore.Client

	mu          sync.Mutex
	subscribers []chan uint64
	lastSeen    uint64
}

// New constructs an Adapter; Start performs the actual connection.
func New(cfg Config) *Adapter {
	cfg.applyDefaults()
	return &Adapter{cfg: cfg}
}

// Start initializes the Firebase app and Firestore client, then launches
// the background poller that feeds SubscribeToHeights.
func (a *Adapter) Start(ctx context.Context) error {
	if a.cfg.ProjectID == "" {
		return fmt.Errorf("firestore: ProjectID is required")
	}

	var opts []option.ClientOption
	if a.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(a.cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: a.cfg.ProjectID}, opts...)
	if err != nil {
		return fmt.Errorf("firestore: init firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return fmt.Errorf("firestore: init client: %w", err)
	}

	a.app = app
	a.client = client

	go a.pollLoop(ctx)

	a.cfg.Logger.Printf("started, project=%s collection=%s", a.cfg.ProjectID, a.cfg.Collection)
	return nil
}

func (a *Adapter) collection() *gcpfirestore.CollectionRef {
	return a.client.Collection(a.cfg.Collection)
}

func docID(h uint64) string {
	return fmt.Sprintf("%020d", h)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *Adapter) pollOnce(ctx context.Context) {
	a.mu.Lock()
	since := a.lastSeen
	a.mu.Unlock()

	iter := a.collection().OrderBy("height", gcpfirestore.Asc).
		Where("height", ">", since).
		Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			a.cfg.Logger.Printf("poll error: %v", err)
			return
		}
		var doc heightDoc
		if err := snap.DataTo(&doc); err != nil {
			a.cfg.Logger.Printf("decode error: %v", err)
			continue
		}
		a.mu.Lock()
		if doc.Height > a.lastSeen {
			a.lastSeen = doc.Height
		}
		a.broadcastLocked(doc.Height)
		a.mu.Unlock()
	}
}

func (a *Adapter) broadcastLocked(h uint64) {
	live := a.subscribers[:0]
	for _, sub := range a.subscribers {
		select {
		case sub <- h:
			live = append(live, sub)
		default:
			a.cfg.Logger.Printf("subscriber lagging at height %d, closing", h)
			close(sub)
		}
	}
	a.subscribers = live
}

// SubscribeToHeights implements da.Adapter.
func (a *Adapter) SubscribeToHeights() <-chan uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan uint64, 64)
	a.subscribers = append(a.subscribers, ch)
	return ch
}

// GetOperations implements da.Adapter.
func (a *Adapter) GetOperations(ctx context.Context, h uint64) ([]operation.Operation, error) {
	snap, err := a.collection().Doc(docID(h)).Get(ctx)
	if err != nil {
		if grpcNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore: get operations at %d: %w", h, err)
	}
	var doc heightDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore: decode height doc %d: %w", h, err)
	}
	if doc.OperationsJSON == "" {
		return nil, nil
	}
	var ops []operation.Operation
	if err := json.Unmarshal([]byte(doc.OperationsJSON), &ops); err != nil {
		return nil, fmt.Errorf("firestore: decode operations at %d: %w", h, err)
	}
	return ops, nil
}

// GetFinalizedEpoch implements da.Adapter.
func (a *Adapter) GetFinalizedEpoch(ctx context.Context, h uint64) (*da.FinalizedEpoch, error) {
	snap, err := a.collection().Doc(docID(h)).Get(ctx)
	if err != nil {
		if grpcNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore: get epoch at %d: %w", h, err)
	}
	var doc heightDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore: decode height doc %d: %w", h, err)
	}
	if doc.EpochJSON == "" {
		return nil, nil
	}
	var ep da.FinalizedEpoch
	if err := json.Unmarshal([]byte(doc.EpochJSON), &ep); err != nil {
		return nil, fmt.Errorf("firestore: decode epoch at %d: %w", h, err)
	}
	return &ep, nil
}

// SubmitOperations implements da.Adapter.
func (a *Adapter) SubmitOperations(ctx context.Context, ops []operation.Operation) (uint64, error) {
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return 0, fmt.Errorf("firestore: marshal operations: %w", err)
	}
	h, err := a.nextHeight(ctx)
	if err != nil {
		return 0, err
	}
	_, err = a.collection().Doc(docID(h)).Set(ctx, heightDoc{Height: h, OperationsJSON: string(opsJSON)})
	if err != nil {
		return 0, fmt.Errorf("firestore: submit operations at %d: %w", h, err)
	}
	return h, nil
}

// SubmitFinalizedEpoch implements da.Adapter.
func (a *Adapter) SubmitFinalizedEpoch(ctx context.Context, ep *da.FinalizedEpoch) error {
	epJSON, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("firestore: marshal epoch: %w", err)
	}
	h, err := a.nextHeight(ctx)
	if err != nil {
		return err
	}
	_, err = a.collection().Doc(docID(h)).Set(ctx, heightDoc{Height: h, EpochJSON: string(epJSON)})
	if err != nil {
		return fmt.Errorf("firestore: submit epoch at %d: %w", h, err)
	}
	return nil
}

// nextHeight assigns a new monotonically increasing height by reading the
// highest existing document height. Real deployments should use a
// Firestore transaction for the read-increment-write; this keeps the
// adapter simple while matching the single-writer topology the prover
// assumes (one prover node submits; others only read).
func (a *Adapter) nextHeight(ctx context.Context) (uint64, error) {
	iter := a.collection().OrderBy("height", gcpfirestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("firestore: read highest height: %w", err)
	}
	var doc heightDoc
	if err := snap.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("firestore: decode highest height doc: %w", err)
	}
	return doc.Height + 1, nil
}

// grpcNotFound reports whether err is the grpc NotFound status Firestore's
// Get returns for a missing document.
func grpcNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
