package service

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shulepay/shulepay/internal/config"
	"github.com/shulepay/shulepay/internal/domain"
)

// billingLockTTL keeps the daily run-lock held long enough that a second
// instance waking up later the same day still sees it.
const billingLockTTL = 23 * time.Hour

// RunReport summarizes one scheduler run.
type RunReport struct {
	Due     int `json:"due"`
	Billed  int `json:"billed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// BillingScheduler issues recurring membership invoices. A minute ticker
// fires the run once a day at the configured hour; a Redis lock keyed by
// the billing day keeps multiple instances from double-running.
type BillingScheduler struct {
	subscriberRepo domain.SubscriberRepository
	billing        *BillingService
	cache          domain.CacheRepository
	cfg            config.BillingConfig
}

func NewBillingScheduler(
	subscriberRepo domain.SubscriberRepository,
	billing *BillingService,
	cache domain.CacheRepository,
	cfg config.BillingConfig,
) *BillingScheduler {
	return &BillingScheduler{
		subscriberRepo: subscriberRepo,
		billing:        billing,
		cache:          cache,
		cfg:            cfg,
	}
}

// Start launches the scheduler loop. It returns immediately; the loop stops
// when ctx is cancelled.
func (s *BillingScheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		log.Printf("[Scheduler] started, daily run at %02d:00", s.cfg.RunHour)
		var lastRunDay string
		for {
			select {
			case <-ctx.Done():
				log.Println("[Scheduler] stopped")
				return
			case now := <-ticker.C:
				now = now.UTC()
				day := now.Format("2006-01-02")
				if now.Hour() != s.cfg.RunHour || day == lastRunDay {
					continue
				}
				lastRunDay = day
				if _, err := s.RunOnce(ctx, now); err != nil {
					log.Printf("[Scheduler] run failed: %v", err)
				}
			}
		}
	}()
}

// RunOnce executes one billing pass: every active recurring subscriber whose
// next billing date has arrived gets an invoice for the current period, and
// their billing date moves forward one cycle. The invoice is created before
// the date advances, so a crash in between re-bills safely on the next run
// thanks to the per-period duplicate guard. Per-subscriber failures are
// logged and counted, never abort the batch.
func (s *BillingScheduler) RunOnce(ctx context.Context, now time.Time) (*RunReport, error) {
	day := now.UTC().Format("2006-01-02")

	acquired, err := s.cache.AcquireBillingLock(ctx, day, billingLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire billing lock: %w", err)
	}
	if !acquired {
		log.Printf("[Scheduler] run for %s already taken by another instance, skipping", day)
		return &RunReport{}, nil
	}

	due, err := s.subscriberRepo.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscribers: %w", err)
	}
	log.Printf("[Scheduler] run %s: %d subscribers due", day, len(due))

	var billed, skipped, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, sub := range due {
		sub := sub
		g.Go(func() error {
			switch err := s.billSubscriber(gctx, sub, now); {
			case err == nil:
				atomic.AddInt64(&billed, 1)
			case err == errAlreadyAdvanced, err == errAlreadyBilled:
				atomic.AddInt64(&skipped, 1)
			default:
				atomic.AddInt64(&failed, 1)
				log.Printf("[Scheduler] billing subscriber %s failed: %v", sub.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &RunReport{
		Due:     len(due),
		Billed:  int(billed),
		Skipped: int(skipped),
		Failed:  int(failed),
	}
	log.Printf("[Scheduler] run %s done: billed=%d skipped=%d failed=%d", day, report.Billed, report.Skipped, report.Failed)
	return report, nil
}

var (
	errAlreadyAdvanced = fmt.Errorf("billing date already advanced")
	errAlreadyBilled   = fmt.Errorf("period already billed")
)

func (s *BillingScheduler) billSubscriber(ctx context.Context, sub *domain.Subscriber, now time.Time) error {
	if sub.NextBillingDate == nil {
		return fmt.Errorf("recurring subscriber %s has no next billing date", sub.ID)
	}

	price, ok := domain.PriceOf(sub.Tier)
	if !ok {
		return fmt.Errorf("subscriber %s has unknown tier %q", sub.ID, sub.Tier)
	}

	desc := fmt.Sprintf("%s tier recurring fee for %s", sub.Tier, domain.BillingPeriodOf(now))
	_, created, err := s.billing.CreateInvoice(ctx, sub, domain.InvoiceCategoryMembership, price.Amount, desc, now)
	if err != nil {
		return err
	}

	// The date still advances when the invoice already existed, so a run
	// that crashed between invoicing and advancing heals here.
	next := sub.NextBillingDate.Add(domain.BillingCycle)
	if err := s.subscriberRepo.AdvanceBillingDate(ctx, sub.ID, *sub.NextBillingDate, next); err != nil {
		if err == domain.ErrNotFound {
			// Subscriber removed mid-run. The invoice guard keeps the
			// period single-billed regardless, so this is benign.
			return errAlreadyAdvanced
		}
		return err
	}
	if !created {
		return errAlreadyBilled
	}
	return nil
}
