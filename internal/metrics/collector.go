package metrics

import (
	"time"

	"github.com/cuemby/entidb/internal/store"
)

// Collector periodically samples a store's entity counts into
// EntitiesTotal, the same ticker-driven shape the rest of the corpus
// uses for gauge metrics that aren't naturally updated at the call
// site that changes them.
type Collector struct {
	st     *store.Store
	stopCh chan struct{}
}

// NewCollector returns a collector sampling st.
func NewCollector(st *store.Store) *Collector {
	return &Collector{st: st, stopCh: make(chan struct{})}
}

// Start begins periodic sampling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, name := range c.st.Collections().Names() {
		cid, ok := c.st.Collections().Lookup(name)
		if !ok {
			continue
		}
		EntitiesTotal.WithLabelValues(name).Set(float64(c.st.Visibility().Count(cid)))
	}
	if sz, err := c.st.LogSize(); err == nil {
		LogBytes.Set(float64(sz))
	}
}
