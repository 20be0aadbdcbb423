package mission

import (
	"context"
	"errors"
	"sync"
	"time"

	"placequest-core/pkg/errutil"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "mission_cache_miss_total"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss)
}

// snapshot pairs a mission with its place; the two are always read together.
type snapshot struct {
	Mission  *Mission
	Place    *Place
	cachedAt time.Time
}

// Cache is a read-through cache over missions and their places. Missions are
// owned by a separate management surface and read-only here, so a short TTL
// is enough; singleflight collapses concurrent loads of the same mission.
type Cache struct {
	db    *gorm.DB
	mu    sync.RWMutex
	items map[string]*snapshot
	ttl   time.Duration
	group singleflight.Group
}

func NewCache(db *gorm.DB, ttl time.Duration) *Cache {
	return &Cache{
		db:    db,
		items: make(map[string]*snapshot),
		ttl:   ttl,
	}
}

// Get returns the mission and its place, loading from the database on a miss.
func (c *Cache) Get(ctx context.Context, missionID string) (*Mission, *Place, error) {
	c.mu.RLock()
	v, ok := c.items[missionID]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || time.Since(v.cachedAt) <= c.ttl) {
		cacheHits.Inc()
		return v.Mission, v.Place, nil
	}
	cacheMiss.Inc()

	res, err, _ := c.group.Do(missionID, func() (interface{}, error) {
		return c.load(ctx, missionID)
	})
	if err != nil {
		return nil, nil, err
	}

	snap := res.(*snapshot)
	return snap.Mission, snap.Place, nil
}

func (c *Cache) load(ctx context.Context, missionID string) (*snapshot, error) {
	var m Mission
	err := c.db.WithContext(ctx).Where("id = ?", missionID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("mission not found", nil)
	}
	if err != nil {
		return nil, err
	}

	var p Place
	err = c.db.WithContext(ctx).Where("id = ?", m.PlaceID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("mission place not found", nil)
	}
	if err != nil {
		return nil, err
	}

	snap := &snapshot{Mission: &m, Place: &p, cachedAt: time.Now()}
	c.mu.Lock()
	c.items[missionID] = snap
	c.mu.Unlock()

	return snap, nil
}

func (c *Cache) Invalidate(missionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, missionID)
}
