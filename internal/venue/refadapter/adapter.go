package refadapter

import (
	"context"
	"log/slog"
	"sync"

	"tradecoord/internal/scheduler"
	"tradecoord/internal/venue"
)

// Config bundles everything needed to build a reference adapter.
type Config struct {
	BaseURL       string
	WebsocketURL  string
	PrivateKeyHex string
	ChainID       int64
	DryRun        bool
	Log           *slog.Logger
}

// Adapter wires Signer, Client, and Feed together into the venue.Adapter
// port — the reference implementation SPEC_FULL.md calls for so the
// engine has one concrete collaborator to run against besides mockadapter.
type Adapter struct {
	*Client
	feed *Feed

	mu      sync.Mutex
	cancel  context.CancelFunc
	feedErr error
}

// New constructs a reference Adapter. callbacks is installed on the
// websocket feed; Client also receives a copy but never invokes it, since
// REST responses never carry async order/fill events in this domain.
func New(cfg Config, sched *scheduler.Scheduler, callbacks venue.CoreCallbacks) (*Adapter, error) {
	signer, err := NewSigner(cfg.PrivateKeyHex, cfg.ChainID)
	if err != nil {
		return nil, err
	}

	client := NewClient(ClientConfig{
		BaseURL: cfg.BaseURL,
		Signer:  signer,
		Sched:   sched,
		DryRun:  cfg.DryRun,
		Log:     cfg.Log,
	}, callbacks)

	feed := NewFeed(cfg.WebsocketURL, signer, callbacks, cfg.Log)

	return &Adapter{Client: client, feed: feed}, nil
}

// Subscribe tracks pairs for the websocket feed's (re)subscription.
func (a *Adapter) Subscribe(pairs []string) {
	a.feed.Subscribe(pairs)
}

// Connect starts the websocket feed's reconnect loop in the background.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil // already connected
	}
	feedCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		err := a.feed.Run(feedCtx)
		a.mu.Lock()
		a.feedErr = err
		a.mu.Unlock()
	}()
	return nil
}

// Disconnect stops the websocket feed.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return a.feed.Close()
}
