package heartbeat

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/mastership"
)

func testLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// freePort reserves and immediately releases a loopback UDP port so two
// Services can be pre-wired with each other's address without either
// side needing to discover it dynamically.
func freePort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer pc.Close()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

func newUnicastPair(t *testing.T) (primaryCfg, backupCfg config.RecoveryManager) {
	t.Helper()
	primaryPort := freePort(t)
	backupPort := freePort(t)

	base := config.RecoveryManager{
		HBMode:                   "unicast",
		HBAddressPrimary:         "127.0.0.1",
		HBPortPrimary:            primaryPort,
		HBAddressBackup:          "127.0.0.1",
		HBPortBackup:             backupPort,
		HBInterval:               20 * time.Millisecond,
		HBPrimaryDeadInterval:    2 * time.Second,
		HBBackupDeadInterval:     2 * time.Second,
		HBPrimaryWaitingInterval: 2 * time.Second,
	}

	primaryCfg = base
	primaryCfg.ID = unicastPrimaryID
	backupCfg = base
	backupCfg.ID = unicastBackupID
	return primaryCfg, backupCfg
}

func TestServiceUnicastEstablishesConnection(t *testing.T) {
	primaryCfg, backupCfg := newUnicastPair(t)
	ofCfg := config.Server{Address: "127.0.0.1", Port: 6653}
	dbCfg := config.DatabaseConnector{Address: "127.0.0.1", Port: 6379}

	primary, err := New(primaryCfg, ofCfg, dbCfg, testLogEntry())
	if err != nil {
		t.Fatalf("New(primary): %v", err)
	}
	backup, err := New(backupCfg, ofCfg, dbCfg, testLogEntry())
	if err != nil {
		t.Fatalf("New(backup): %v", err)
	}
	defer primary.Close()
	defer backup.Close()

	backupSawPrimary := make(chan string, 1)
	backup.SetOnConnectionToPrimaryEstablished(func(id string) {
		select {
		case backupSawPrimary <- id:
		default:
		}
	})
	primarySawBackup := make(chan string, 1)
	primary.SetOnConnectionToBackupEstablished(func(id string) {
		select {
		case primarySawBackup <- id:
		default:
		}
	})
	backupParams := make(chan mastership.Params, 1)
	backup.SetOnParamsChanged(func(p mastership.Params) {
		select {
		case backupParams <- p:
		default:
		}
	})

	if err := backup.StartService("unicast", mastership.StatusBackup); err != nil {
		t.Fatalf("StartService(backup): %v", err)
	}
	if err := primary.StartService("unicast", mastership.StatusPrimary); err != nil {
		t.Fatalf("StartService(primary): %v", err)
	}

	select {
	case id := <-backupSawPrimary:
		if id != "1" {
			t.Fatalf("backup saw primary id %q, want \"1\"", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backup to see the primary")
	}

	select {
	case id := <-primarySawBackup:
		if id != "2" {
			t.Fatalf("primary saw backup id %q, want \"2\"", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for primary to see the backup")
	}

	select {
	case p := <-backupParams:
		if p.NodeID() != "1" {
			t.Fatalf("unexpected params node id %q", p.NodeID())
		}
		if p.OpenflowAddr() != "127.0.0.1" || p.OpenflowPort() != 6653 {
			t.Fatalf("unexpected openflow endpoint %s:%d", p.OpenflowAddr(), p.OpenflowPort())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backup to receive params")
	}
}

func TestServiceDuplicateNodeID(t *testing.T) {
	primaryCfg, _ := newUnicastPair(t)
	ofCfg := config.Server{Address: "127.0.0.1", Port: 6653}
	dbCfg := config.DatabaseConnector{Address: "127.0.0.1", Port: 6379}

	s, err := New(primaryCfg, ofCfg, dbCfg, testLogEntry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.StartService("unicast", mastership.StatusBackup); err != nil {
		t.Fatalf("StartService: %v", err)
	}

	dupErr := make(chan error, 1)
	s.SetOnDuplicateNodeID(func(err error) {
		select {
		case dupErr <- err:
		default:
		}
	})

	// A datagram carrying this node's own id but a different start
	// nonce can only come from a second process misconfigured with the
	// same recovery-manager.id.
	data, err := encodeDatagram(cmdEchoRequest, echoMessage{
		nodeID:     s.nodeID,
		startNonce: s.startNonce + 1,
		number:     1,
	})
	if err != nil {
		t.Fatalf("encodeDatagram: %v", err)
	}
	s.handleDatagram(data, nil)

	select {
	case err := <-dupErr:
		if err == nil {
			t.Fatal("expected a non-nil duplicate-id error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onDuplicateNodeID")
	}
}

func TestServicePrimaryDeathFiresOnTimeout(t *testing.T) {
	backupCfg := config.RecoveryManager{
		ID:                    unicastBackupID,
		HBMode:                "unicast",
		HBAddressPrimary:      "127.0.0.1",
		HBPortPrimary:         freePort(t),
		HBAddressBackup:       "127.0.0.1",
		HBPortBackup:          freePort(t),
		HBPrimaryDeadInterval: 30 * time.Millisecond,
	}
	ofCfg := config.Server{Address: "127.0.0.1", Port: 6653}
	dbCfg := config.DatabaseConnector{Address: "127.0.0.1", Port: 6379}

	s, err := New(backupCfg, ofCfg, dbCfg, testLogEntry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	died := make(chan struct{}, 1)
	s.SetOnPrimaryDied(func() {
		select {
		case died <- struct{}{}:
		default:
		}
	})

	if err := s.StartService("unicast", mastership.StatusBackup); err != nil {
		t.Fatalf("StartService: %v", err)
	}

	s.mu.Lock()
	s.connectedToPrimary = true
	s.resetPrimaryDeadTimerLocked()
	s.mu.Unlock()

	select {
	case <-died:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onPrimaryDied")
	}
}
