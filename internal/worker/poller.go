package worker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Poller runs ProcessPending on a fixed interval, as a fallback for lost
// AMQP messages.
type Poller struct {
	worker   *SyncWorker
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPoller(worker *SyncWorker, interval time.Duration) *Poller {
	return &Poller{worker: worker, interval: interval}
}

// Start begins the polling loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("poller is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.runLoop(ctx, p.stopCh, p.doneCh)

	p.worker.logger.InfoContext(ctx, "Sync poller started", "interval", p.interval)
	return nil
}

// Stop signals the loop and waits for the current batch to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.worker.logger.InfoContext(ctx, "Sync poller stopped")
		return nil
	case <-ctx.Done():
		p.worker.logger.WarnContext(ctx, "Sync poller stop timed out")
		return ctx.Err()
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.worker.ProcessPending(ctx); err != nil {
				p.worker.logger.ErrorContext(ctx, "Pending sync failed", "error", err)
			}
		}
	}
}
