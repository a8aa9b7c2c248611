package mastership

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is the minimal key/value surface recoveryChecker needs:
// spec.md's supplemented recovery:switches key, otherwise unused by any
// module without this one. internal/persistence's Redis-backed store
// satisfies this, following the same forward-reference-interface
// pattern internal/topology's Store and internal/flowverifier's Store
// already establish.
type Store interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
}

const recoveryKey = "recovery:switches"

// recoveryChecker is the direct analogue of the original's
// RecoveryModeChecker: it tracks which of a previously-persisted
// "preconfigured switches" baseline have reconnected, and declares
// recovery either complete (every preconfigured switch is back) or
// failed (a waiting deadline elapsed first), via callbacks rather than
// Qt signals.
type recoveryChecker struct {
	log   *logrus.Entry
	store Store

	mu        sync.Mutex
	waitingFor map[uint64]bool
	connected  map[uint64]bool

	checkInterval time.Duration
	timer         *time.Timer
	stop          chan struct{}

	onReady  func()
	onFailed func()
}

func newRecoveryChecker(store Store, log *logrus.Entry) *recoveryChecker {
	return &recoveryChecker{
		log:           log,
		store:         store,
		waitingFor:    make(map[uint64]bool),
		connected:     make(map[uint64]bool),
		checkInterval: time.Second,
	}
}

// loadBaseline reads the preconfigured-switches baseline the previous
// primary persisted, the set this recovery run must see reconnect
// before it is safe to escalate.
func (c *recoveryChecker) loadBaseline() {
	if c.store == nil {
		return
	}
	buf, ok, err := c.store.Get(recoveryKey)
	if err != nil || !ok || len(buf) == 0 {
		return
	}
	var dpids []uint64
	if err := json.Unmarshal(buf, &dpids); err != nil {
		c.log.WithError(err).Warn("mastership: decode recovery baseline")
		return
	}
	c.mu.Lock()
	for _, d := range dpids {
		c.waitingFor[d] = true
	}
	c.mu.Unlock()
}

// saveBaseline persists the currently-connected set as the new baseline
// — the original's save_to_database. It runs from updateSwitch while
// the caller is primary, on promotion through Manager.recovery, and
// when a recovery check ends, so a future recovery has an up-to-date set.
func (c *recoveryChecker) saveBaseline() {
	if c.store == nil {
		return
	}
	c.mu.Lock()
	dpids := make([]uint64, 0, len(c.connected))
	for d := range c.connected {
		dpids = append(dpids, d)
	}
	c.mu.Unlock()
	sort.Slice(dpids, func(i, j int) bool { return dpids[i] < dpids[j] })

	buf, err := json.Marshal(dpids)
	if err != nil {
		return
	}
	if err := c.store.Set(recoveryKey, buf); err != nil {
		c.log.WithError(err).Warn("mastership: persist recovery baseline")
	}
}

type recoveryAction int

const (
	recoveryActionAdd recoveryAction = iota
	recoveryActionDelete
)

// updateSwitch records dpid's connection state and, when isPrimary,
// persists the updated baseline immediately.
func (c *recoveryChecker) updateSwitch(dpid uint64, act recoveryAction, isPrimary bool) {
	c.mu.Lock()
	switch act {
	case recoveryActionAdd:
		c.connected[dpid] = true
	case recoveryActionDelete:
		delete(c.connected, dpid)
	}
	c.mu.Unlock()

	if isPrimary {
		c.saveBaseline()
	}
}

// startRecoveryCheck begins polling for every baseline switch to
// reconnect. onReady fires once they all have; onFailed fires if
// maxWaiting elapses first (zero means wait forever). Set both
// callbacks before calling this.
func (c *recoveryChecker) startRecoveryCheck(maxWaiting time.Duration) {
	c.stop = make(chan struct{})
	var deadline <-chan time.Time
	if maxWaiting > 0 {
		c.timer = time.NewTimer(maxWaiting)
		deadline = c.timer.C
	}

	ticker := time.NewTicker(c.checkInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-deadline:
				c.log.Warn("mastership: recovery-waiting deadline elapsed, staying backup")
				c.saveBaseline()
				if c.onFailed != nil {
					c.onFailed()
				}
				return
			case <-ticker.C:
				if c.allConnected() {
					c.log.Warn("mastership: all preconfigured switches reconnected, escalating")
					c.saveBaseline()
					if c.onReady != nil {
						c.onReady()
					}
					return
				}
			}
		}
	}()
}

func (c *recoveryChecker) stopRecoveryCheck() {
	if c.stop == nil {
		return
	}
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *recoveryChecker) allConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for d := range c.waitingFor {
		if !c.connected[d] {
			return false
		}
	}
	return true
}
