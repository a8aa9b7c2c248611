package flowverifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// Store is the minimal key/value surface Verifier needs: spec.md §4.6's
// persistence keys (flow-entries-verifier:state:<dpid>:<ordinal> and
// flow-entries-verifier:states_list). internal/persistence's
// Redis-backed store satisfies this, the same way internal/topology is
// built against its own narrow Store interface rather than importing a
// concrete backend.
type Store interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

const statesListKey = "flow-entries-verifier:states_list"

func stateKey(dpid ofconn.DPID, ordinal int) string {
	return fmt.Sprintf("flow-entries-verifier:state:%d:%d", dpid, ordinal)
}

func statePrefix(dpid ofconn.DPID) string {
	return fmt.Sprintf("flow-entries-verifier:state:%d:", dpid)
}

// persistShadow writes dpid's current shadow to the store, one flow-mod
// per ordinal key (its wire-format bytes, the same "dump the packed
// message" approach the original implementation's pack()/unpack() uses),
// then trims any leftover ordinals from a previously larger shadow and
// records dpid in the states list.
func (v *Verifier) persistShadow(dpid ofconn.DPID) {
	if v.store == nil {
		return
	}
	entries := v.shadowFor(dpid).snapshot()

	var buf bytes.Buffer
	for i, e := range entries {
		buf.Reset()
		if _, err := e.FlowMod.WriteTo(&buf); err != nil {
			v.log.WithError(err).WithField("dpid", dpid).Error("flowverifier: encode shadow entry")
			continue
		}
		if err := v.store.Set(stateKey(dpid, i+1), append([]byte(nil), buf.Bytes()...)); err != nil {
			v.log.WithError(err).WithField("dpid", dpid).Error("flowverifier: persist shadow entry")
		}
	}

	v.mu.Lock()
	prev := v.persistedCount[dpid]
	v.persistedCount[dpid] = len(entries)
	v.mu.Unlock()

	for i := len(entries) + 1; i <= prev; i++ {
		if err := v.store.Delete(stateKey(dpid, i)); err != nil {
			v.log.WithError(err).WithField("dpid", dpid).Error("flowverifier: trim stale shadow entry")
		}
	}

	v.addToStatesList(dpid)
}

// addToStatesList records dpid in the shared states_list key, the list
// LoadFromStore walks to discover which per-switch states exist.
func (v *Verifier) addToStatesList(dpid ofconn.DPID) {
	list, err := v.readStatesList()
	if err != nil {
		v.log.WithError(err).Error("flowverifier: read states list")
		return
	}
	for _, d := range list {
		if d == dpid {
			return
		}
	}
	list = append(list, dpid)
	v.writeStatesList(list)
}

// removeFromStatesList drops dpid from states_list and its persisted
// shadow entries, used when a switch disconnects while this node is
// primary.
func (v *Verifier) removeFromStatesList(dpid ofconn.DPID) {
	if v.store == nil {
		return
	}
	list, err := v.readStatesList()
	if err != nil {
		v.log.WithError(err).Error("flowverifier: read states list")
		return
	}
	kept := list[:0]
	for _, d := range list {
		if d != dpid {
			kept = append(kept, d)
		}
	}
	v.writeStatesList(kept)

	keys, err := v.store.Keys(statePrefix(dpid))
	if err != nil {
		return
	}
	for _, key := range keys {
		v.store.Delete(key)
	}

	v.mu.Lock()
	delete(v.persistedCount, dpid)
	v.mu.Unlock()
}

func (v *Verifier) readStatesList() ([]ofconn.DPID, error) {
	buf, ok, err := v.store.Get(statesListKey)
	if err != nil {
		return nil, err
	}
	if !ok || len(buf) == 0 {
		return nil, nil
	}
	var raw []uint64
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, err
	}
	out := make([]ofconn.DPID, len(raw))
	for i, d := range raw {
		out[i] = ofconn.DPID(d)
	}
	return out, nil
}

func (v *Verifier) writeStatesList(list []ofconn.DPID) {
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	raw := make([]uint64, len(list))
	for i, d := range list {
		raw[i] = uint64(d)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		v.log.WithError(err).Error("flowverifier: marshal states list")
		return
	}
	if err := v.store.Set(statesListKey, buf); err != nil {
		v.log.WithError(err).Error("flowverifier: write states list")
	}
}

// LoadFromStore replaces every in-memory shadow with what is persisted,
// the recovery-time reload the original runs on signalRecovery and
// signalSetupPrimaryMode before it starts trusting live traffic again.
func (v *Verifier) LoadFromStore() error {
	if v.store == nil {
		return nil
	}
	list, err := v.readStatesList()
	if err != nil {
		return fmt.Errorf("flowverifier: reading states list: %w", err)
	}

	for _, dpid := range list {
		keys, err := v.store.Keys(statePrefix(dpid))
		if err != nil {
			return fmt.Errorf("flowverifier: listing state for dpid %d: %w", dpid, err)
		}

		shadow := newDpidShadow()
		for _, key := range keys {
			buf, ok, err := v.store.Get(key)
			if err != nil {
				return fmt.Errorf("flowverifier: loading %s: %w", key, err)
			}
			if !ok {
				continue
			}
			var fm ofp.FlowMod
			if _, err := fm.ReadFrom(bytes.NewReader(buf)); err != nil {
				return fmt.Errorf("flowverifier: decoding %s: %w", key, err)
			}
			key := keyOf(fm.Table, fm.Priority, fm.Match)
			shadow.entries[key] = &ShadowEntry{FlowMod: fm}
		}

		v.mu.Lock()
		v.shadows[dpid] = shadow
		v.persistedCount[dpid] = len(shadow.entries)
		v.mu.Unlock()
	}
	return nil
}

// Clear drops every in-memory shadow, used when this node steps down
// from primary to backup (the original clears its VerifierDatabase on
// signalSetupBackupMode rather than trusting stale intent while another
// node is authoritative).
func (v *Verifier) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shadows = make(map[ofconn.DPID]*dpidShadow)
}
