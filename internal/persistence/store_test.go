package persistence

import (
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/config"
)

func testLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	host, port := mr.Host(), mr.Port()
	portNum, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("parsing miniredis port %q: %v", port, err)
	}

	s, err := New(config.DatabaseConnector{Address: host, Port: portNum}, testLogEntry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestStoreSetGetDelete(t *testing.T) {
	s, _ := newTestStore(t)

	if _, ok, err := s.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := s.Set("topology:route:1", []byte(`{"id":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, ok, err := s.Get("topology:route:1")
	if err != nil || !ok {
		t.Fatalf("Get: (%q, %v, %v)", val, ok, err)
	}
	if string(val) != `{"id":1}` {
		t.Fatalf("Get = %q, want the stored JSON", val)
	}

	if err := s.Delete("topology:route:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, err := s.Get("topology:route:1"); err != nil || ok {
		t.Fatalf("Get after Delete = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestStoreKeysPrefix(t *testing.T) {
	s, _ := newTestStore(t)

	for _, key := range []string{
		"topology:route:1",
		"topology:route:2",
		"flow-entries-verifier:states_list",
	} {
		if err := s.Set(key, []byte("x")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	keys, err := s.Keys("topology:route:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Keys returned %d entries, want 2: %v", len(keys), keys)
	}
}

func TestStoreClearAll(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Set("a", []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if _, ok, err := s.Get("a"); err != nil || ok {
		t.Fatalf("Get after ClearAll = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

// TestStoreReplicaOf only checks that pointing this store at a new
// master doesn't panic or block; miniredis doesn't implement real
// replication, so the effect of SLAVEOF can't be observed here.
func TestStoreReplicaOf(t *testing.T) {
	s, _ := newTestStore(t)
	master := miniredis.RunT(t)

	masterPort, err := strconv.Atoi(master.Port())
	if err != nil {
		t.Fatalf("parsing master port: %v", err)
	}

	s.ReplicaOf(master.Host(), masterPort)
}
