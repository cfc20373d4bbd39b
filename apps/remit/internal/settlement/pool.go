package settlement

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"remit/apps/remit/internal/model"
)

var (
	ErrQueueFull   = errors.New("settlement queue is full")
	ErrPoolStopped = errors.New("settlement pool is stopped")
)

type Settler interface {
	Settle(ctx context.Context, transferID string) error
	Fail(ctx context.Context, transferID string, cause error) error
}

type TransferReader interface {
	FindByID(ctx context.Context, id string) (*model.Transfer, error)
}

// Pool runs settlements on a fixed number of workers fed by a bounded queue.
type Pool struct {
	settler Settler
	store   TransferReader
	workers int
	queue   chan string
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{} // queued or in flight
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(settler Settler, store TransferReader, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		settler: settler,
		store:   store,
		workers: workers,
		queue:   make(chan string, queueSize),
		pending: make(map[string]struct{}),
		logger:  logger,
	}
}

// Start launches the workers. Cancelling ctx or calling Stop ends them.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("Starting settlement workers", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

// SettleTransfer queues a transfer for settlement without waiting for it. A transfer that
// is already queued or settling is not queued twice.
func (p *Pool) SettleTransfer(transferID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if _, exists := p.pending[transferID]; exists {
		p.logger.Debug("Transfer already queued", zap.String("transfer_id", transferID))
		return nil
	}

	select {
	case p.queue <- transferID:
		p.pending[transferID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// GetSettlementStatus returns the current state of a transfer.
func (p *Pool) GetSettlementStatus(ctx context.Context, transferID string) (*model.Transfer, error) {
	return p.store.FindByID(ctx, transferID)
}

func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// InFlight returns the number of transfers queued or being settled.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Stop rejects new work, cancels running settlements and waits for the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("Settlement workers stopped", zap.Int("abandoned", len(p.queue)))
}

func (p *Pool) work(ctx context.Context, worker int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case transferID := <-p.queue:
			p.run(ctx, worker, transferID)
		}
	}
}

func (p *Pool) run(ctx context.Context, worker int, transferID string) {
	defer func() {
		p.mu.Lock()
		delete(p.pending, transferID)
		p.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Settlement panicked",
				zap.Int("worker", worker),
				zap.String("transfer_id", transferID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			if err := p.settler.Fail(ctx, transferID, fmt.Errorf("%w: %v", ErrPanic, r)); err != nil {
				p.logger.Error("Failed to mark panicked settlement failed", zap.String("transfer_id", transferID), zap.Error(err))
			}
		}
	}()

	if err := p.settler.Settle(ctx, transferID); err != nil {
		p.logger.Warn("Settlement did not complete",
			zap.Int("worker", worker),
			zap.String("transfer_id", transferID),
			zap.Error(err))
	}
}
