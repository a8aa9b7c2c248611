// Package devicedb is the embedded device-property database: a catalog
// keyed by (manufacturer, hardware, software, serial) supplying the
// per-vendor table-layout overrides SwitchInventory needs once a
// switch's description multipart arrives, the Go-native form of
// `aux-devices-rest`'s device catalog.
package devicedb

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// NoTable marks a table-layout slot the vendor does not expose,
// mirroring the original's Tables::no_table sentinel.
const NoTable uint8 = 0xff

// TableLayout tags which flow table plays which role in the pipeline:
// admission, mirroring, classifier, forwarding, learning, output, and
// the two optional statistics tables.
type TableLayout struct {
	Statistics   uint8 `json:"statistics"`
	EPStatistics uint8 `json:"ep_statistics"`
	Admission    uint8 `json:"admission"`
	Mirroring    uint8 `json:"mirroring"`
	Classifier   uint8 `json:"classifier"`
	Forwarding   uint8 `json:"forwarding"`
	Learning     uint8 `json:"learning"`
	Output       uint8 `json:"output"`
}

// Default returns the table layout every switch starts from before any
// vendor-specific override is applied: six consecutive tables 0..5 and
// no statistics tables.
func Default() TableLayout {
	return TableLayout{
		Statistics:   NoTable,
		EPStatistics: NoTable,
		Admission:    0,
		Mirroring:    1,
		Classifier:   2,
		Forwarding:   3,
		Learning:     4,
		Output:       5,
	}
}

// Key identifies one device catalog entry. Serial may be empty to match
// every switch of the given manufacturer/hardware/software combination,
// and Software may be empty as well to match every software version of
// the given manufacturer/hardware; an exact-serial entry always takes
// precedence over one with an empty serial, and an entry naming the
// software over one that leaves it empty.
type Key struct {
	Manufacturer string
	Hardware     string
	Software     string
	Serial       string
}

type entry struct {
	Manufacturer string      `json:"manufacturer"`
	Hardware     string      `json:"hardware"`
	Software     string      `json:"software"`
	Serial       string      `json:"serial"`
	Tables       TableLayout `json:"tables"`
}

//go:embed devices.json
var catalogJSON []byte

// DB is the loaded device catalog. The zero value is not usable; call
// Load or Embedded.
type DB struct {
	exact   map[Key]TableLayout
	byClass map[Key]TableLayout // Serial == "" entries
}

// Load parses a device catalog from raw JSON in the same shape as the
// embedded devices.json.
func Load(data []byte) (*DB, error) {
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("devicedb: parsing catalog: %w", err)
	}

	db := &DB{exact: make(map[Key]TableLayout), byClass: make(map[Key]TableLayout)}
	for _, e := range entries {
		merged := Default()
		mergeNonZero(&merged, e.Tables)

		key := Key{Manufacturer: e.Manufacturer, Hardware: e.Hardware, Software: e.Software, Serial: e.Serial}
		if e.Serial == "" {
			db.byClass[key] = merged
		} else {
			db.exact[key] = merged
		}
	}
	return db, nil
}

// Embedded loads the catalog bundled with the binary.
func Embedded() (*DB, error) { return Load(catalogJSON) }

// Lookup resolves the table layout for key, falling back from an exact
// (manufacturer, hardware, software, serial) match to a class match
// with an empty serial, then to one with an empty serial and software,
// and finally to Default.
func (db *DB) Lookup(key Key) TableLayout {
	if layout, ok := db.exact[key]; ok {
		return layout
	}
	class := key
	class.Serial = ""
	if layout, ok := db.byClass[class]; ok {
		return layout
	}
	class.Software = ""
	if layout, ok := db.byClass[class]; ok {
		return layout
	}
	return Default()
}

// mergeNonZero overlays every non-zero field of override onto base,
// except table slots explicitly set to NoTable, which also override.
func mergeNonZero(base *TableLayout, override TableLayout) {
	apply := func(dst *uint8, src uint8) {
		if src != 0 {
			*dst = src
		}
	}
	apply(&base.Statistics, override.Statistics)
	apply(&base.EPStatistics, override.EPStatistics)
	apply(&base.Admission, override.Admission)
	apply(&base.Mirroring, override.Mirroring)
	apply(&base.Classifier, override.Classifier)
	apply(&base.Forwarding, override.Forwarding)
	apply(&base.Learning, override.Learning)
	apply(&base.Output, override.Output)
}
