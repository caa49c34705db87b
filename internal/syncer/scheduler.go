package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownNetwork is returned for a network that has no syncer.
var ErrUnknownNetwork = errors.New("network is not scheduled")

// Scheduler runs one NetworkSyncer per network. A slow or failing network
// does not hold back the others.
type Scheduler struct {
	syncers map[int64]*NetworkSyncer
	logger  *zap.Logger
}

func NewScheduler(syncers []*NetworkSyncer, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	byChain := make(map[int64]*NetworkSyncer, len(syncers))
	for _, s := range syncers {
		byChain[s.ChainID()] = s
	}
	return &Scheduler{syncers: byChain, logger: logger}
}

// Syncer returns the syncer of a network.
func (s *Scheduler) Syncer(chainID int64) (*NetworkSyncer, bool) {
	syncer, ok := s.syncers[chainID]
	return syncer, ok
}

// ChainIDs lists the scheduled networks in ascending order.
func (s *Scheduler) ChainIDs() []int64 {
	ids := make([]int64, 0, len(s.syncers))
	for id := range s.syncers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Run blocks until ctx is done and every network loop has returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Int64s("networks", s.ChainIDs()))

	var wg sync.WaitGroup
	for _, syncer := range s.syncers {
		wg.Add(1)
		go func(syncer *NetworkSyncer) {
			defer wg.Done()
			syncer.Run(ctx)
		}(syncer)
	}
	wg.Wait()

	s.logger.Info("scheduler stopped")
}

// UpdatePools runs an on-demand structural pass for one network.
func (s *Scheduler) UpdatePools(ctx context.Context, chainID int64) error {
	syncer, ok := s.syncers[chainID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNetwork, chainID)
	}
	return syncer.SyncOnce(ctx)
}
