/*
scheduler.go - Daily ROI accrual sweep

PURPOSE:
  Once per day at UTC midnight, credits daily ROI to every eligible
  active investment, then purges investments that have been completed
  for more than thirty days. A manual trigger with the same re-entrancy
  guard exists for operational use.

DESIGN:
  - Background goroutine sleeping until the next UTC midnight
  - SweepLock rejects (does not queue) overlapping triggers
  - A failure on one investment is isolated: the sweep continues, and
    the failed investment stays eligible for the next day's run because
    its last-calculation marker was not advanced

USAGE:
  sweeper := sched.NewSweeper(store, lifecycle, nil)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - invest/lifecycle.go: AccrueOneDay, invoked per investment
  - lock.go: Local and Redis-lease sweep locks
*/
package sched

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stakeline/invest-engine/core"
	"github.com/stakeline/invest-engine/invest"
)

// SweepResult summarizes one accrual sweep.
type SweepResult struct {
	Processed int
	Skipped   int
	Failed    int
	Purged    int
	TotalROI  decimal.Decimal
}

// Sweeper runs the daily accrual sweep.
type Sweeper struct {
	Store     core.TxStore
	Lifecycle *invest.Service
	Lock      SweepLock

	// PurgeAfter is how long completed investments are retained before
	// housekeeping deletes them. Ledger history is never touched.
	PurgeAfter time.Duration

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
}

// NewSweeper creates a sweeper. A nil lock falls back to the
// process-local guard.
func NewSweeper(store core.TxStore, lifecycle *invest.Service, lock SweepLock) *Sweeper {
	if lock == nil {
		lock = NewLocalLock()
	}
	return &Sweeper{
		Store:      store,
		Lifecycle:  lifecycle,
		Lock:       lock,
		PurgeAfter: 30 * 24 * time.Hour,
		Now:        time.Now,
	}
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Start launches the midnight loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run()

	log.Printf("[Scheduler] Started, next sweep at %s", core.NextMidnightUTC(s.now()).Format(time.RFC3339))
}

// Stop halts the midnight loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.stop = nil
	log.Println("[Scheduler] Stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(time.Until(core.NextMidnightUTC(s.now())))
		select {
		case <-timer.C:
			if _, err := s.RunNow(context.Background()); err != nil {
				// An overlapping trigger is skipped entirely, not queued.
				log.Printf("[Scheduler] Scheduled sweep skipped: %v", err)
			}
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

// RunNow triggers a sweep immediately. Returns ErrAlreadyInProgress
// when a sweep is in flight; the rejected call changes no state.
func (s *Sweeper) RunNow(ctx context.Context) (SweepResult, error) {
	release, ok, err := s.Lock.TryAcquire(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	if !ok {
		return SweepResult{}, core.ErrAlreadyInProgress
	}
	defer release()

	return s.sweep(ctx), nil
}

func (s *Sweeper) sweep(ctx context.Context) SweepResult {
	now := s.now()
	dayStart := core.StartOfDayUTC(now)
	result := SweepResult{TotalROI: decimal.Zero}

	log.Printf("[Scheduler] Starting daily ROI sweep for %s", dayStart.Format("2006-01-02"))

	investments, err := s.Store.ListAccruableInvestments(ctx, dayStart)
	if err != nil {
		log.Printf("[Scheduler] Failed to list investments: %v", err)
		return result
	}

	for i := range investments {
		credited, amount, err := s.Lifecycle.AccrueOneDay(ctx, &investments[i], now)
		if err != nil {
			// Isolated failure: the investment stays eligible tomorrow.
			log.Printf("[Scheduler] Accrual failed for investment %s: %v", investments[i].ID, err)
			result.Failed++
			continue
		}
		if !credited {
			result.Skipped++
			continue
		}
		result.Processed++
		result.TotalROI = result.TotalROI.Add(amount)
	}

	purged, err := s.Store.PurgeCompletedInvestments(ctx, now.Add(-s.PurgeAfter))
	if err != nil {
		log.Printf("[Scheduler] Purge failed: %v", err)
	} else {
		result.Purged = purged
	}

	log.Printf("[Scheduler] Sweep completed: %d processed, %d skipped, %d failed, %d purged, total ROI %s",
		result.Processed, result.Skipped, result.Failed, result.Purged, result.TotalROI.StringFixed(2))

	return result
}
