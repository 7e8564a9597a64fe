// Package broker provides the pub/sub transport.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"golang.org/x/time/rate"

	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// Join attempts made against the seed list before Start gives up.
const gossipJoinAttempts = 5

// GossipTransport broadcasts over a memberlist cluster. Publish sends the
// packet reliably to every other member and delivers it locally, so no
// external broker is needed between hosts.
type GossipTransport struct {
	base
	bindAddr string
	bindPort int
	seeds    []string
	nodeName string

	stateMu sync.Mutex
	list    *memberlist.Memberlist
}

// NewGossipTransport creates a gossip transport. The member list is created
// by Start.
func NewGossipTransport(cfg Config) *GossipTransport {
	t := &GossipTransport{
		bindAddr: cfg.GossipBindAddr,
		bindPort: cfg.GossipBindPort,
		seeds:    cfg.GossipSeeds,
		nodeName: cfg.NodeName,
	}
	t.setup(ModeGossip, cfg)
	if t.nodeName == "" {
		t.nodeName = t.Sender()
	}
	return t
}

// Start implements Transport. Seeds are retried at a paced rate until one
// join succeeds or ctx ends.
func (t *GossipTransport) Start(ctx context.Context) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.list != nil {
		return nil
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = t.nodeName
	if t.bindAddr != "" {
		mlConfig.BindAddr = t.bindAddr
	}
	mlConfig.BindPort = t.bindPort
	mlConfig.AdvertisePort = t.bindPort
	mlConfig.Delegate = &gossipDelegate{transport: t}
	mlConfig.Events = &gossipEvents{logger: t.logger}
	mlConfig.LogOutput = &slogWriter{logger: t.logger}

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		return fmt.Errorf("create memberlist: %w", err)
	}

	if len(t.seeds) > 0 {
		if err := t.join(ctx, list); err != nil {
			list.Shutdown()
			return err
		}
	} else {
		t.logger.Info("gossip transport started (bootstrap mode)", "node", t.nodeName)
	}

	t.list = list
	return nil
}

func (t *GossipTransport) join(ctx context.Context, list *memberlist.Memberlist) error {
	pace := rate.NewLimiter(rate.Every(time.Second), 1)

	var lastErr error
	for attempt := 1; attempt <= gossipJoinAttempts; attempt++ {
		if err := pace.Wait(ctx); err != nil {
			return fmt.Errorf("join seed nodes: %w", err)
		}
		n, err := list.Join(t.seeds)
		if err == nil {
			t.logger.Info("joined gossip cluster",
				"node", t.nodeName,
				"seed_nodes", t.seeds,
				"joined_count", n)
			return nil
		}
		lastErr = err
		t.logger.Warn("gossip join attempt failed",
			"attempt", attempt,
			"error", err)
	}
	return fmt.Errorf("join seed nodes: %w", lastErr)
}

// Members returns the current member count, including this node.
func (t *GossipTransport) Members() int {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.list == nil {
		return 0
	}
	return t.list.NumMembers()
}

// Publish implements Transport.
func (t *GossipTransport) Publish(_ context.Context, env rpc.ChannelEnvelope) error {
	t.stateMu.Lock()
	list := t.list
	t.stateMu.Unlock()
	if list == nil {
		return ErrStopped
	}

	data, err := t.encode(env)
	if err != nil {
		return err
	}

	local := list.LocalNode()
	for _, node := range list.Members() {
		if node.Name == local.Name {
			continue
		}
		if err := list.SendReliable(node, data); err != nil {
			t.drop("send", err, "node", node.Name)
		}
	}
	t.published(len(data))

	t.deliver(data)
	return nil
}

// Stop implements Transport. The node leaves the cluster before shutting
// down so peers drop it immediately.
func (t *GossipTransport) Stop() error {
	t.stateMu.Lock()
	list := t.list
	t.list = nil
	t.stateMu.Unlock()
	if list == nil {
		return nil
	}

	if err := list.Leave(time.Second); err != nil {
		t.logger.Warn("failed to leave gossip cluster", "error", err)
	}
	if err := list.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	t.logger.Info("gossip transport stopped")
	return nil
}

// gossipDelegate implements memberlist.Delegate. Only user messages are used.
type gossipDelegate struct {
	transport *GossipTransport
}

func (d *gossipDelegate) NodeMeta(limit int) []byte { return nil }

// NotifyMsg receives a packet sent by another member. memberlist reuses buf.
func (d *gossipDelegate) NotifyMsg(buf []byte) {
	data := make([]byte, len(buf))
	copy(data, buf)
	d.transport.deliver(data)
}

func (d *gossipDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *gossipDelegate) LocalState(join bool) []byte                { return nil }
func (d *gossipDelegate) MergeRemoteState(buf []byte, join bool)     {}

// gossipEvents logs membership changes.
type gossipEvents struct {
	logger *slog.Logger
}

func (e *gossipEvents) NotifyJoin(node *memberlist.Node) {
	e.logger.Info("gossip member joined",
		"node", node.Name,
		"addr", node.Address())
}

func (e *gossipEvents) NotifyLeave(node *memberlist.Node) {
	e.logger.Info("gossip member left",
		"node", node.Name,
		"addr", node.Address())
}

func (e *gossipEvents) NotifyUpdate(node *memberlist.Node) {
	e.logger.Debug("gossip member updated", "node", node.Name)
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}
