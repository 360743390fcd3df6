package reference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ehr/clinicdesk/internal/platform/apiclient"
	"github.com/ehr/clinicdesk/internal/platform/telemetry"
)

// DefaultLoadTimeout bounds the aggregate catalog load.
const DefaultLoadTimeout = 30 * time.Second

// Source fetches the reference lists from the hospital API.
type Source interface {
	ListDoctors(ctx context.Context) ([]apiclient.Doctor, error)
	ListTestTypes(ctx context.Context) ([]apiclient.TestType, error)
	ListMedications(ctx context.Context) ([]apiclient.Medication, error)
	ListProcedures(ctx context.Context) ([]apiclient.Procedure, error)
	ListConsumables(ctx context.Context) ([]apiclient.Consumable, error)
	ListInventory(ctx context.Context) ([]apiclient.InventoryBatch, error)
}

// LoadError reports which lists failed to load. It is always recoverable:
// the caller may retry LoadAll.
type LoadError struct {
	Failed  []string
	Timeout bool
	Err     error
}

func (e *LoadError) Error() string {
	if e.Timeout {
		return "failed to load reference data: timed out"
	}
	return fmt.Sprintf("failed to load reference data (%s): %v", strings.Join(e.Failed, ", "), e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Cache holds the catalog and the derived inventory status.
type Cache struct {
	src     Source
	logger  zerolog.Logger
	timeout time.Duration
	metrics *telemetry.Metrics
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	catalog   *Catalog
	loading   bool
	inventory map[string]InventoryStatus
}

func NewCache(src Source, timeout time.Duration, logger zerolog.Logger) *Cache {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	return &Cache{
		src:       src,
		timeout:   timeout,
		logger:    logger.With().Str("component", "reference_cache").Logger(),
		now:       time.Now,
		inventory: make(map[string]InventoryStatus),
	}
}

// SetMetrics attaches optional metrics.
func (c *Cache) SetMetrics(m *telemetry.Metrics) {
	c.metrics = m
}

// SetClock replaces the time source used for expiry checks.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// LoadAll fetches the five catalog lists concurrently. A failing list does
// not prevent the others from populating the returned catalog; the failures
// come back together as a *LoadError and the cached catalog is left as it
// was. Concurrent callers share one in-flight load, which is bounded by the
// cache timeout rather than by any one caller's context: a caller that gives
// up returns its own context error while the load continues for the rest.
func (c *Cache) LoadAll(ctx context.Context) (*Catalog, error) {
	ch := c.group.DoChan("catalog", func() (interface{}, error) {
		return c.load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load reference data: %w", ctx.Err())
	case res := <-ch:
		cat, _ := res.Val.(*Catalog)
		return cat, res.Err
	}
}

func (c *Cache) load(parent context.Context) (*Catalog, error) {
	c.setLoading(true)
	defer c.setLoading(false)

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	cat := &Catalog{}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs error
		bad  []string
	)
	fail := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		bad = append(bad, name)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
	}

	// each fetch records its own failure and returns nil so siblings keep going
	g.Go(func() error {
		v, err := c.src.ListDoctors(ctx)
		if err != nil {
			fail("doctors", err)
			return nil
		}
		cat.Doctors = v
		return nil
	})
	g.Go(func() error {
		v, err := c.src.ListTestTypes(ctx)
		if err != nil {
			fail("test types", err)
			return nil
		}
		cat.TestTypes = v
		return nil
	})
	g.Go(func() error {
		v, err := c.src.ListMedications(ctx)
		if err != nil {
			fail("medications", err)
			return nil
		}
		cat.Medications = v
		return nil
	})
	g.Go(func() error {
		v, err := c.src.ListProcedures(ctx)
		if err != nil {
			fail("procedures", err)
			return nil
		}
		cat.Procedures = v
		return nil
	})
	g.Go(func() error {
		v, err := c.src.ListConsumables(ctx)
		if err != nil {
			fail("consumables", err)
			return nil
		}
		cat.Consumables = v
		return nil
	})
	_ = g.Wait()

	cat.LoadedAt = c.now().UTC()

	// a partial catalog is returned to the caller but never cached
	var loadErr error
	if errs != nil {
		le := &LoadError{Failed: bad, Err: errs}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			le.Timeout = true
		}
		loadErr = le
		c.logger.Error().Err(errs).Strs("failed", bad).Msg("reference data load failed")
	} else {
		c.mu.Lock()
		c.catalog = cat
		c.mu.Unlock()
		c.logger.Debug().Dur("latency", time.Since(start)).Msg("reference data loaded")
	}
	c.metrics.ObserveReferenceLoad(time.Since(start), loadErr)

	return cat, loadErr
}

func (c *Cache) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
}

// Loading reports whether a catalog load is in flight.
func (c *Cache) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Catalog returns the last loaded catalog, or nil.
func (c *Cache) Catalog() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.catalog
}

// LoadInventory fetches stock batches and replaces the inventory status map.
// On failure the previous map is kept.
func (c *Cache) LoadInventory(ctx context.Context) error {
	batches, err := c.src.ListInventory(ctx)
	if err != nil {
		return fmt.Errorf("load inventory: %w", err)
	}
	status := AggregateInventory(batches, c.now())

	c.mu.Lock()
	c.inventory = status
	c.mu.Unlock()
	return nil
}

// RefreshInventory reloads inventory in the background. Failures are only
// logged: prescribing stays possible when stock levels are unknown.
func (c *Cache) RefreshInventory(ctx context.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		if err := c.LoadInventory(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("inventory refresh failed")
		}
	}()
}

// RunInventoryRefresher reloads inventory every interval until ctx is done.
func (c *Cache) RunInventoryRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.LoadInventory(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("periodic inventory refresh failed")
			}
		}
	}
}

// Inventory returns the stock status for a medication, if known.
func (c *Cache) Inventory(medicationID string) (InventoryStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.inventory[medicationID]
	return st, ok
}

// InventorySnapshot returns a copy of the inventory status map.
func (c *Cache) InventorySnapshot() map[string]InventoryStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]InventoryStatus, len(c.inventory))
	for k, v := range c.inventory {
		out[k] = v
	}
	return out
}

// DefaultDoctor returns the id of the doctor record belonging to userID.
func (c *Cache) DefaultDoctor(userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	cat := c.Catalog()
	if cat == nil {
		return "", false
	}
	for _, d := range cat.Doctors {
		if d.UserID == userID || d.ID == userID {
			return d.ID, true
		}
	}
	return "", false
}

// Snapshot is the read-only view served to the front-end.
type Snapshot struct {
	Catalog   *Catalog                   `json:"catalog"`
	Inventory map[string]InventoryStatus `json:"inventory"`
	Loading   bool                       `json:"loading"`
}

func (c *Cache) Snapshot() Snapshot {
	return Snapshot{
		Catalog:   c.Catalog(),
		Inventory: c.InventorySnapshot(),
		Loading:   c.Loading(),
	}
}
