// Package cluster ties the leader and its worker processes together.
package cluster

import (
	"context"
	"errors"
	"log/slog"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// LeaderService serves the cluster bookkeeping methods on the leader.
type LeaderService struct {
	supervisor *Supervisor
	registry   *rpc.Registry
	logger     *slog.Logger
}

// NewLeaderService creates the service. registry is the leader's full
// method registry, reported by listMethods.
func NewLeaderService(supervisor *Supervisor, registry *rpc.Registry, logger *slog.Logger) *LeaderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderService{
		supervisor: supervisor,
		registry:   registry,
		logger:     logger,
	}
}

// Methods returns the RPC methods of the service.
func (s *LeaderService) Methods() map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		clusterv1.MethodRegisterWorker:  rpc.Bind(s.registerWorker),
		clusterv1.MethodListMethods:     rpc.Bind(s.listMethods),
		clusterv1.MethodFanOutToWorkers: rpc.Bind(s.fanOutToWorkers),
	}
}

func (s *LeaderService) registerWorker(ctx context.Context, p clusterv1.RegisterWorkerParams) (bool, error) {
	if p.WorkerID == "" {
		return false, errors.New("registerWorker: worker id is required")
	}
	peer, ok := rpc.PeerFromContext(ctx)
	if !ok {
		return false, errors.New("registerWorker: must be called over a worker link")
	}
	if err := s.supervisor.Attach(p.WorkerID, p.PID, peer); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LeaderService) listMethods(_ context.Context, _ struct{}) ([]string, error) {
	return s.registry.Names(), nil
}

func (s *LeaderService) fanOutToWorkers(ctx context.Context, p clusterv1.FanOutParams) ([]clusterv1.FanOutResult, error) {
	if p.Method == "" {
		return nil, errors.New("fanOutToWorkers: method is required")
	}
	var params any
	if len(p.Params) > 0 {
		params = p.Params
	}
	return s.supervisor.FanOut(ctx, p.Method, params), nil
}
