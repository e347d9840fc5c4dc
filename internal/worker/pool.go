// Package worker builds the fixed set of crawl workers, one per proxy
// identity, and runs them to completion.
package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"invcrawler/pkg/gate"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/metrics"
	"invcrawler/pkg/steam"
)

// Client is the upstream surface a worker crawls through. *steam.Client
// implements it.
type Client interface {
	GetInventoryPage(ctx context.Context, id64, startAssetID string) (*steam.InventoryPage, error)
	GetGroupMembersPage(ctx context.Context, group string, page int) ([]byte, error)
	Label() string
}

// Worker is one proxy-bound crawl identity
type Worker struct {
	ID     int
	Proxy  string
	Client Client
	Gate   *gate.Gate
	Logger logger.Logger
}

// Options configures a Pool
type Options struct {
	// Proxies holds one entry per worker; "direct" means no proxy
	Proxies []string
	// Steam is the client template; Proxy, Keys, Logger and Metrics are
	// filled in per worker
	Steam steam.Options
	// Gate is the gate template; Keys, OnTrip and Logger are filled in
	Gate gate.Options
	// SharedGate gives every worker the same gate
	SharedGate bool
	// Keys are the upstream API keys rotated on throttling
	Keys    []string
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Pool is the fixed worker set of one run
type Pool struct {
	workers []*Worker
	gates   *gate.Set
	logger  logger.Logger
}

// NewPool builds one worker per proxy. Each gate owns a key ring over the
// same keys, so a shared gate rotates the key for everyone.
func NewPool(opts Options) (*Pool, error) {
	if len(opts.Proxies) == 0 {
		return nil, fmt.Errorf("at least one proxy is required")
	}
	log := logger.OrNop(opts.Logger)
	gates := buildGates(opts, len(opts.Proxies), log)

	clients := make([]Client, len(opts.Proxies))
	for i, proxy := range opts.Proxies {
		sopts := opts.Steam
		sopts.Proxy = proxy
		sopts.Keys = gates.For(i).Keys()
		sopts.Logger = log
		sopts.Metrics = opts.Metrics
		client, err := steam.NewClient(sopts)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		clients[i] = client
	}
	return assemble(clients, gates, log), nil
}

// NewPoolWithClients builds one worker per client. opts.Proxies and
// opts.Steam are ignored.
func NewPoolWithClients(clients []Client, opts Options) (*Pool, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one client is required")
	}
	log := logger.OrNop(opts.Logger)
	return assemble(clients, buildGates(opts, len(clients), log), log), nil
}

func buildGates(opts Options, workers int, log logger.Logger) *gate.Set {
	return gate.NewSet(opts.SharedGate, workers, func() *gate.Gate {
		g := opts.Gate
		g.Keys = gate.NewKeyRing(opts.Keys)
		g.Logger = log.WithField("component", "gate")
		g.OnTrip = opts.Metrics.GateTripped
		return gate.New(g)
	})
}

func assemble(clients []Client, gates *gate.Set, log logger.Logger) *Pool {
	p := &Pool{gates: gates, logger: log.WithField("component", "pool")}
	for i, client := range clients {
		p.workers = append(p.workers, &Worker{
			ID:     i,
			Proxy:  client.Label(),
			Client: client,
			Gate:   gates.For(i),
			Logger: log.WithFields(map[string]interface{}{
				"worker": i,
				"proxy":  client.Label(),
			}),
		})
	}
	return p
}

// Workers returns the workers in proxy order
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return len(p.workers)
}

// Gates returns the gate set
func (p *Pool) Gates() *gate.Set {
	return p.gates
}

// Run starts fn once per worker and waits for all of them. The first error
// cancels the context handed to the others and is returned.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context, w *Worker) error) error {
	p.logger.InfoWithFields("Starting workers", map[string]interface{}{
		"workers":     len(p.workers),
		"shared_gate": p.gates.Shared(),
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			w.Logger.Debug("Worker started")
			err := fn(gctx, w)
			if err != nil {
				w.Logger.WithError(err).Debug("Worker stopped with error")
			} else {
				w.Logger.Debug("Worker finished")
			}
			return err
		})
	}
	err := g.Wait()

	p.logger.Info("Workers stopped")
	return err
}
