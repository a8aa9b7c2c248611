package devicedb

import "testing"

func TestEmbeddedLookupKnownVendor(t *testing.T) {
	db, err := Embedded()
	if err != nil {
		t.Fatalf("Embedded: %v", err)
	}

	layout := db.Lookup(Key{Manufacturer: "Noviflow Inc", Hardware: "NoviSwitch", Software: "1.0"})
	if layout.Statistics != 1 || layout.Admission != 2 || layout.Output != 7 {
		t.Fatalf("unexpected layout for NoviSwitch: %+v", layout)
	}
}

func TestLookupUnknownVendorFallsBackToDefault(t *testing.T) {
	db, err := Embedded()
	if err != nil {
		t.Fatalf("Embedded: %v", err)
	}

	layout := db.Lookup(Key{Manufacturer: "Unknown Corp", Hardware: "Whatever"})
	if layout != Default() {
		t.Fatalf("expected default layout for unknown vendor, got %+v", layout)
	}
}

func TestLookupExactSerialOverridesClass(t *testing.T) {
	data := `[
		{"manufacturer": "Acme", "hardware": "X1", "software": "", "serial": "",
		 "tables": {"admission": 1, "mirroring": 2, "classifier": 3, "forwarding": 4, "learning": 5, "output": 6}},
		{"manufacturer": "Acme", "hardware": "X1", "software": "", "serial": "SN-42",
		 "tables": {"admission": 2, "mirroring": 3, "classifier": 4, "forwarding": 5, "learning": 6, "output": 7}}
	]`
	db, err := Load([]byte(data))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	class := db.Lookup(Key{Manufacturer: "Acme", Hardware: "X1"})
	if class.Admission != 1 {
		t.Fatalf("expected class-match layout, got %+v", class)
	}

	exact := db.Lookup(Key{Manufacturer: "Acme", Hardware: "X1", Serial: "SN-42"})
	if exact.Admission != 2 {
		t.Fatalf("expected exact-serial layout to win, got %+v", exact)
	}
}
