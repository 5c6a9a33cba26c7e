package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"dronerace/broker/internal/logging"
)

// RetentionPolicy bounds how many flights stay on disk and for how long. Zero disables a limit.
type RetentionPolicy struct {
	MaxFlights int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of recorded flights.
type StorageStats struct {
	Flights   int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner periodically prunes flight bundles according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the flights stored under dir.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run sweeps once immediately and then every interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the statistics of the last sweep.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type flightDir struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}

	//1.- Only bundle directories count; stray files are left alone.
	flights := make([]flightDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		size, modTime, err := directoryFootprint(path)
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		flights = append(flights, flightDir{path: path, size: size, modTime: modTime})
	}
	//2.- Newest first so the flight limit keeps recent recordings.
	sort.Slice(flights, func(i, j int) bool { return flights[i].modTime.After(flights[j].modTime) })

	now := c.now()
	stats := StorageStats{LastSweep: now}
	for _, flight := range flights {
		if reason := c.expired(flight, now, stats.Flights); reason != "" {
			if err := os.RemoveAll(flight.path); err != nil {
				c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("flight", flight.path))
			} else {
				c.log.Info("replay retention removed flight", logging.String("flight", flight.path), logging.String("reason", reason))
				continue
			}
		}
		stats.Flights++
		stats.Bytes += flight.size
	}

	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) expired(flight flightDir, now time.Time, kept int) string {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(flight.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxFlights > 0 && kept >= c.policy.MaxFlights {
		reasons = append(reasons, fmt.Sprintf(">=%d flights", c.policy.MaxFlights))
	}
	return strings.Join(reasons, ", ")
}

// directoryFootprint returns the total file size and the newest modification time below root.
func directoryFootprint(root string) (int64, time.Time, error) {
	var total int64
	var newest time.Time
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if !d.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, newest, err
}
