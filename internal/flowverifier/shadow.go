package flowverifier

import (
	"bytes"
	"sync"

	"github.com/ARCCN/runos-sub001/ofp"
)

// shadowKey identifies a shadow entry the same way spec.md §4.6 treats
// switch state: (table, priority, match) is the identity, instructions
// are not part of the key.
type shadowKey struct {
	Table     ofp.Table
	Priority  uint16
	MatchHash uint64
}

func keyOf(table ofp.Table, priority uint16, m ofp.Match) shadowKey {
	return shadowKey{Table: table, Priority: priority, MatchHash: matchHash(m)}
}

// ShadowEntry is the controller's record of one flow entry it believes
// is installed on a switch. FlowMod is kept verbatim (not just the
// match/instructions) so an unexpected removal can re-send exactly what
// was originally intended.
type ShadowEntry struct {
	FlowMod ofp.FlowMod
}

// dpidShadow is one switch's shadow flow table, guarded by its own
// mutex so reconciliation across switches can proceed in parallel.
type dpidShadow struct {
	mu      sync.Mutex
	entries map[shadowKey]*ShadowEntry
}

func newDpidShadow() *dpidShadow {
	return &dpidShadow{entries: make(map[shadowKey]*ShadowEntry)}
}

// apply mutates the shadow per fm's command, matching spec.md §4.6's
// command table.
func (s *dpidShadow) apply(fm *ofp.FlowMod) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch fm.Command {
	case ofp.FlowAdd:
		key := keyOf(fm.Table, fm.Priority, fm.Match)
		s.entries[key] = &ShadowEntry{FlowMod: *fm}

	case ofp.FlowModify:
		for _, e := range s.entries {
			if nonStrictMatches(e, fm) {
				e.FlowMod.Instructions = fm.Instructions
			}
		}

	case ofp.FlowModifyStrict:
		key := keyOf(fm.Table, fm.Priority, fm.Match)
		if e, ok := s.entries[key]; ok {
			e.FlowMod.Instructions = fm.Instructions
		}

	case ofp.FlowDelete:
		for key, e := range s.entries {
			if nonStrictMatches(e, fm) && outputWildcardsMatch(e, fm) {
				delete(s.entries, key)
			}
		}

	case ofp.FlowDeleteStrict:
		key := keyOf(fm.Table, fm.Priority, fm.Match)
		delete(s.entries, key)
	}
}

// snapshot returns every entry currently shadowed, for persistence and
// reconciliation; the caller must not mutate the returned entries.
func (s *dpidShadow) snapshot() []*ShadowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ShadowEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// tableMatches reports whether a candidate entry's table is selected by
// a flow-mod's table field (TableAll is the delete/modify wildcard).
func tableMatches(entryTable, fmTable ofp.Table) bool {
	return fmTable == ofp.TableAll || entryTable == fmTable
}

// cookieMatches applies the flow-mod's cookie mask to both cookies, per
// the wire protocol's "restrict matching to cookie & mask" rule. A zero
// mask means no restriction.
func cookieMatches(entryCookie, fmCookie, fmCookieMask uint64) bool {
	if fmCookieMask == 0 {
		return true
	}
	return entryCookie&fmCookieMask == fmCookie&fmCookieMask
}

// matchSuperset reports whether every OXM field named in fmMatch is
// present, with the same value and mask, in entryMatch — the
// non-strict "the flow-mod's match selects this entry" rule modify and
// delete use.
func matchSuperset(entryMatch, fmMatch ofp.Match) bool {
	for _, want := range fmMatch.Fields {
		found := false
		for _, have := range entryMatch.Fields {
			if have.Type == want.Type &&
				bytes.Equal(have.Value, want.Value) &&
				bytes.Equal(have.Mask, want.Mask) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func nonStrictMatches(e *ShadowEntry, fm *ofp.FlowMod) bool {
	return tableMatches(e.FlowMod.Table, fm.Table) &&
		cookieMatches(e.FlowMod.Cookie, fm.Cookie, fm.CookieMask) &&
		matchSuperset(e.FlowMod.Match, fm.Match)
}

// outputWildcardsMatch implements the delete command's extra
// out-port/out-group restriction: when the flow-mod names a specific
// port or group (not the "any" wildcard), only entries whose action set
// actually outputs to it are selected.
func outputWildcardsMatch(e *ShadowEntry, fm *ofp.FlowMod) bool {
	if fm.OutPort != ofp.PortAny && !hasOutputPort(e.FlowMod.Instructions, fm.OutPort) {
		return false
	}
	if fm.OutGroup != ofp.GroupAny && !hasOutputGroup(e.FlowMod.Instructions, fm.OutGroup) {
		return false
	}
	return true
}

func hasOutputPort(instrs ofp.Instructions, port ofp.PortNo) bool {
	for _, a := range actionsOf(instrs) {
		if out, ok := a.(*ofp.ActionOutput); ok && out.Port == port {
			return true
		}
	}
	return false
}

func hasOutputGroup(instrs ofp.Instructions, group ofp.Group) bool {
	for _, a := range actionsOf(instrs) {
		if g, ok := a.(*ofp.ActionGroup); ok && g.Group == group {
			return true
		}
	}
	return false
}

func actionsOf(instrs ofp.Instructions) ofp.Actions {
	var out ofp.Actions
	for _, instr := range instrs {
		switch ins := instr.(type) {
		case *ofp.InstructionApplyActions:
			out = append(out, ins.Actions...)
		case *ofp.InstructionWriteActions:
			out = append(out, ins.Actions...)
		}
	}
	return out
}
