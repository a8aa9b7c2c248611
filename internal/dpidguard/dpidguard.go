// Package dpidguard implements the static allowlist of known switch
// datapath identifiers, split into access (AR) and distribution (DR)
// role classes, that gates which switches are allowed to hold a control
// channel session at all.
package dpidguard

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ARCCN/runos-sub001/internal/config"
)

// RoleClass distinguishes the two allowlist buckets a DPID can belong
// to. Mastership treats them identically for role assignment; the
// distinction exists so an operator can reason about which switches sit
// at the network edge versus its distribution layer.
type RoleClass int

const (
	// RoleAccess is the AR ("access role") bucket.
	RoleAccess RoleClass = iota
	// RoleDistribution is the DR ("distribution role") bucket.
	RoleDistribution
)

func (r RoleClass) String() string {
	if r == RoleDistribution {
		return "DR"
	}
	return "AR"
}

// Guard is the static allowlist: a DPID maps to the role class it was
// configured under. It is safe for concurrent use; Add/Remove are rare
// (REST-driven in the original, invoked here by MastershipController's
// de-allowlist-on-equal-refusal path and by Recovery's baseline load).
type Guard struct {
	format string // "hex" or "decimal", reported by Format only

	mu    sync.RWMutex
	roles map[uint64]RoleClass
}

// New builds a Guard from the dpid-checker configuration section.
func New(cfg config.DpidChecker) (*Guard, error) {
	g := &Guard{format: cfg.DpidFormat, roles: make(map[uint64]RoleClass)}
	if g.format == "" {
		g.format = "hex"
	}

	for _, s := range cfg.AR {
		dpid, err := ParseDPID(s)
		if err != nil {
			return nil, fmt.Errorf("dpidguard: AR entry %q: %w", s, err)
		}
		g.roles[dpid] = RoleAccess
	}
	for _, s := range cfg.DR {
		dpid, err := ParseDPID(s)
		if err != nil {
			return nil, fmt.Errorf("dpidguard: DR entry %q: %w", s, err)
		}
		g.roles[dpid] = RoleDistribution
	}

	return g, nil
}

// ParseDPID parses a datapath id given either as a colon-separated
// 8-octet MAC-style hex string (the config file's presentation) or a
// plain base-10/base-16 integer.
func ParseDPID(s string) (uint64, error) {
	if strings.Contains(s, ":") {
		octets := strings.Split(s, ":")
		if len(octets) != 8 {
			return 0, fmt.Errorf("expected 8 colon-separated octets, got %d", len(octets))
		}
		var dpid uint64
		for _, o := range octets {
			b, err := strconv.ParseUint(o, 16, 8)
			if err != nil {
				return 0, err
			}
			dpid = dpid<<8 | b
		}
		return dpid, nil
	}

	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

// Allowed reports whether dpid is on the allowlist, and if so which
// role class it was configured under.
func (g *Guard) Allowed(dpid uint64) (RoleClass, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	role, ok := g.roles[dpid]
	return role, ok
}

// Add admits dpid under the given role class, used by the REST mutator
// (out of scope here) and by MastershipController/Recovery when the
// baseline set of previously-seen switches needs to be restored.
func (g *Guard) Add(dpid uint64, role RoleClass) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roles[dpid] = role
}

// Remove de-allowlists dpid. MastershipController calls this after a
// switch refuses a role change MAX_TIMES_MEET_EQUAL times in a row.
func (g *Guard) Remove(dpid uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.roles, dpid)
}

// Snapshot returns every currently allowlisted DPID, used by Recovery
// to persist the "switches the primary had seen" baseline.
func (g *Guard) Snapshot() []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]uint64, 0, len(g.roles))
	for dpid := range g.roles {
		out = append(out, dpid)
	}
	return out
}

// Format returns the configured DPID string presentation ("hex" or
// "decimal"), used by whatever surface needs to render a DPID back to
// an operator the way the original's DpidChecker.cc did.
func (g *Guard) Format() string { return g.format }
