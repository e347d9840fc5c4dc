package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invcrawler/pkg/gate"
	"invcrawler/pkg/metrics"
)

func gateOptions() gate.Options {
	return gate.Options{MinBackoff: time.Minute, MaxBackoff: time.Minute, PollInterval: time.Millisecond}
}

func TestNewPoolOneWorkerPerProxy(t *testing.T) {
	p, err := NewPool(Options{
		Proxies:    []string{"direct", "http://10.0.0.1:3128", "http://10.0.0.2:3128"},
		Gate:       gateOptions(),
		SharedGate: true,
	})
	require.NoError(t, err)
	require.Equal(t, 3, p.Size())

	labels := []string{}
	for _, w := range p.Workers() {
		labels = append(labels, w.Proxy)
	}
	assert.Equal(t, []string{"direct", "10.0.0.1:3128", "10.0.0.2:3128"}, labels)
	assert.Same(t, p.Workers()[0].Gate, p.Workers()[2].Gate)
}

func TestPerWorkerGates(t *testing.T) {
	p, err := NewPool(Options{
		Proxies: []string{"direct", "direct"},
		Gate:    gateOptions(),
		Keys:    []string{"k1", "k2"},
	})
	require.NoError(t, err)

	a, b := p.Workers()[0].Gate, p.Workers()[1].Gate
	assert.NotSame(t, a, b)

	a.Trip("rate_limit")
	assert.True(t, a.Blocked())
	assert.False(t, b.Blocked(), "a private gate only pauses its owner")
	assert.Equal(t, "k2", a.Keys().Current())
	assert.Equal(t, "k1", b.Keys().Current())
}

func TestGateTripsAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p, err := NewPool(Options{
		Proxies:    []string{"direct"},
		Gate:       gateOptions(),
		SharedGate: true,
		Metrics:    m,
	})
	require.NoError(t, err)

	p.Workers()[0].Gate.Trip("rate_limit")
	n, err := testutil.GatherAndCount(reg, "invcrawler_gate_trips_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewPoolRejectsBadProxy(t *testing.T) {
	_, err := NewPool(Options{Proxies: []string{"direct", "::not a url"}, Gate: gateOptions()})
	assert.Error(t, err)

	_, err = NewPool(Options{Gate: gateOptions()})
	assert.Error(t, err)
}

func TestRunWaitsForAllWorkers(t *testing.T) {
	p, err := NewPool(Options{Proxies: []string{"direct", "direct", "direct"}, Gate: gateOptions()})
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[int]bool{}
	err = p.Run(context.Background(), func(_ context.Context, w *Worker) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[w.ID] = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}

func TestRunCancelsOthersOnError(t *testing.T) {
	p, err := NewPool(Options{Proxies: []string{"direct", "direct"}, Gate: gateOptions()})
	require.NoError(t, err)

	boom := errors.New("duplicate item type")
	err = p.Run(context.Background(), func(ctx context.Context, w *Worker) error {
		if w.ID == 0 {
			return boom
		}
		<-ctx.Done()
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

type namedClient struct {
	Client
	name string
}

func (c namedClient) Label() string { return c.name }

func TestNewPoolWithClients(t *testing.T) {
	p, err := NewPoolWithClients([]Client{namedClient{name: "a"}, namedClient{name: "b"}}, Options{Gate: gateOptions()})
	require.NoError(t, err)
	require.Equal(t, 2, p.Size())
	assert.Equal(t, "b", p.Workers()[1].Proxy)
	assert.False(t, p.Gates().Shared())

	_, err = NewPoolWithClients(nil, Options{})
	assert.Error(t, err)
}
