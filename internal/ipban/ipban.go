// Package ipban implements the connection-accept ban check: a CIDR list
// loaded once at boot (or on SIGHUP) and consulted synchronously before a
// single byte is read off a newly accepted socket.
package ipban

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// Loader is the narrow contract ipban needs to obtain a ban-list snapshot,
// satisfied by internal/store's IpBanDAO without this package importing
// database/sql directly.
type Loader interface {
	LoadBannedCIDRs() ([]string, error)
}

type snapshot struct {
	nets []*net.IPNet
}

// Cache is a read-only-after-construction set of banned CIDRs, consulted
// synchronously on accept. A small LRU in front of the linear scan
// memoizes recent verdicts for repeat offenders; the scan itself remains
// the source of truth and the LRU is never consulted on its own.
//
// Reload swaps in a freshly loaded snapshot atomically: the live snapshot
// is never mutated in place, only replaced, so a reader never observes a
// half-updated list.
type Cache struct {
	current atomic.Pointer[snapshot]
	loader  Loader

	verdictsMu sync.Mutex
	verdicts   *lru.Cache[string, bool]
}

// New loads an initial snapshot from loader and wraps it with a bounded
// verdict cache sized for verdictCacheSize hot IPs.
func New(loader Loader, verdictCacheSize int) (*Cache, error) {
	verdicts, err := lru.New[string, bool](verdictCacheSize)
	if err != nil {
		return nil, fmt.Errorf("ipban: new verdict cache: %w", err)
	}

	c := &Cache{loader: loader, verdicts: verdicts}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload loads a fresh snapshot from the underlying Loader and atomically
// swaps it in, then drops all memoized verdicts since they were computed
// against the old snapshot.
func (c *Cache) Reload() error {
	raw, err := c.loader.LoadBannedCIDRs()
	if err != nil {
		return fmt.Errorf("ipban: load banned CIDRs: %w", err)
	}

	nets := make([]*net.IPNet, 0, len(raw))
	for _, cidr := range raw {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			log.Warn().Str("cidr", cidr).Err(err).Msg("ipban: skipping malformed CIDR entry")
			continue
		}
		nets = append(nets, ipNet)
	}

	c.current.Store(&snapshot{nets: nets})

	c.verdictsMu.Lock()
	c.verdicts.Purge()
	c.verdictsMu.Unlock()

	log.Info().Int("count", len(nets)).Msg("ip ban list (re)loaded")
	return nil
}

// IsBanned reports whether ip falls within any banned CIDR. The LRU is
// checked first purely as a memoization of a prior linear-scan result;
// on a miss the scan runs and its verdict is cached before returning.
func (c *Cache) IsBanned(ip net.IP) bool {
	key := ip.String()

	c.verdictsMu.Lock()
	if v, ok := c.verdicts.Get(key); ok {
		c.verdictsMu.Unlock()
		return v
	}
	c.verdictsMu.Unlock()

	snap := c.current.Load()
	banned := false
	for _, n := range snap.nets {
		if n.Contains(ip) {
			banned = true
			break
		}
	}

	c.verdictsMu.Lock()
	c.verdicts.Add(key, banned)
	c.verdictsMu.Unlock()

	return banned
}

// Count returns the number of CIDR rules in the current snapshot.
func (c *Cache) Count() int {
	return len(c.current.Load().nets)
}
