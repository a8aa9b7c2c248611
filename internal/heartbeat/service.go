package heartbeat

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/mastership"
)

// defaultNodeID mirrors the original's DEFAULT_ID sentinel meaning
// "no primary/backup seen yet".
const defaultNodeID int32 = -1

const (
	unicastPrimaryID = "1"
	unicastBackupID  = "2"
)

// txState tracks whether this socket is currently sending heartbeats
// (this node believes it is the primary) or listening for them — the
// original's heartbeat_mode field, which the original sets to BACKUP
// for both a BACKUP and a RECOVERY controller status.
type txState int

const (
	stateReceiving txState = iota
	stateTransmitting
)

// Service implements mastership.HeartbeatService: the UDP heartbeat
// protocol that detects a dead primary or dead backup and propagates
// each node's advertised endpoints.
type Service struct {
	log *logrus.Entry

	nodeID     int32
	startNonce int64

	heartbeatInterval        time.Duration
	primaryDeadInterval      time.Duration
	backupDeadInterval       time.Duration
	primaryWaitingInterval   time.Duration

	localAddr     *net.UDPAddr
	remoteAddr    *net.UDPAddr
	multicastAddr *net.UDPAddr
	broadcastPort int

	mu      sync.Mutex
	conn    *net.UDPConn
	state   txState
	closed  bool

	hbCounter          int64
	connectedToPrimary bool
	linkDown           bool
	primaryNodeID      int32
	cachedParams       paramsMessage

	heartbeatTicker     *time.Ticker
	primaryDeadTimer    *time.Timer
	primaryWaitingTimer *time.Timer
	backupDeadTimers    map[int32]*time.Timer
	establishedBackupsLocked map[int32]bool

	stop chan struct{}
	wg   sync.WaitGroup

	onPrimaryDied                     func()
	onBackupDied                      func(backupID string)
	onConnectionToPrimaryEstablished  func(primaryID string)
	onConnectionToBackupEstablished   func(backupID string)
	onModeChangedToPrimary            func()
	onParamsChanged                   func(mastership.Params)
	onDuplicateNodeID                 func(err error)
}

// New builds a Service bound to the unicast/multicast/broadcast
// addresses in cfg, with the openflow and database endpoints it will
// advertise in PARAMETERS_UPDATE datagrams taken from ofCfg/dbCfg —
// exactly the three endpoints the original's init_config caches into
// cached_params_message.
func New(cfg config.RecoveryManager, ofCfg config.Server, dbCfg config.DatabaseConnector, log *logrus.Entry) (*Service, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	nodeID, err := strconv.Atoi(cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: recovery-manager.id must be numeric, got %q: %w", cfg.ID, err)
	}

	s := &Service{
		log:                    log,
		nodeID:                 int32(nodeID),
		startNonce:             time.Now().UnixNano(),
		heartbeatInterval:      nonZero(cfg.HBInterval, time.Second),
		primaryDeadInterval:    nonZero(cfg.HBPrimaryDeadInterval, 5*time.Second),
		backupDeadInterval:     nonZero(cfg.HBBackupDeadInterval, 5*time.Second),
		primaryWaitingInterval: nonZero(cfg.HBPrimaryWaitingInterval, 10*time.Second),
		primaryNodeID:          defaultNodeID,
		backupDeadTimers:       make(map[int32]*time.Timer),
		stop:                   make(chan struct{}),
		cachedParams: paramsMessage{
			nodeID:   int32(nodeID),
			openflow: newEndpoint(ofCfg.Address, ofCfg.Port),
			db:       newEndpoint(dbCfg.Address, dbCfg.Port),
		},
	}

	switch {
	case cfg.ID == unicastPrimaryID:
		s.localAddr = udpAddr(cfg.HBAddressPrimary, cfg.HBPortPrimary)
		s.remoteAddr = udpAddr(cfg.HBAddressBackup, cfg.HBPortBackup)
	case cfg.ID == unicastBackupID:
		s.localAddr = udpAddr(cfg.HBAddressBackup, cfg.HBPortBackup)
		s.remoteAddr = udpAddr(cfg.HBAddressPrimary, cfg.HBPortPrimary)
	default:
		// Multicast/broadcast modes don't care which of the two
		// numbered unicast roles this node plays; the unicast
		// addresses are only meaningful for ids "1" and "2", matching
		// the original's UNICAST_PRIMARY_ID/UNICAST_BACKUP_ID split.
	}
	s.multicastAddr = udpAddr(cfg.HBAddressMulticast, cfg.HBPortMulticast)
	s.broadcastPort = cfg.HBPortBroadcast

	return s, nil
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func udpAddr(host string, port int) *net.UDPAddr {
	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4zero
	}
	return &net.UDPAddr{IP: ip, Port: port}
}

// Hook setters. cmd/runosd wires these to the matching
// mastership.Manager methods before calling Init, the Go analogue of
// the original's QObject::connect calls in RecoveryManager's
// constructor.
func (s *Service) SetOnPrimaryDied(f func())                             { s.onPrimaryDied = f }
func (s *Service) SetOnBackupDied(f func(backupID string))               { s.onBackupDied = f }
func (s *Service) SetOnConnectionToPrimaryEstablished(f func(id string)) { s.onConnectionToPrimaryEstablished = f }
func (s *Service) SetOnConnectionToBackupEstablished(f func(id string)) { s.onConnectionToBackupEstablished = f }
func (s *Service) SetOnModeChangedToPrimary(f func())                   { s.onModeChangedToPrimary = f }
func (s *Service) SetOnParamsChanged(f func(p mastership.Params))       { s.onParamsChanged = f }

// SetOnDuplicateNodeID wires the handler for the original's
// "Controller ID is not unique" LOG(FATAL): rather than aborting the
// process from inside a library, a duplicate sighting is reported
// through this hook and the offending datagram is otherwise ignored,
// leaving the decision to crash or merely alert to the caller.
func (s *Service) SetOnDuplicateNodeID(f func(err error)) { s.onDuplicateNodeID = f }

// StartService (re)configures the socket for mode and begins
// transmitting (PRIMARY) or receiving (BACKUP/RECOVERY) heartbeats,
// exactly as the original's startService slot switches on
// ControllerStatus. An UNDEFINED status is a no-op, matching the
// original's default case.
func (s *Service) StartService(mode string, status mastership.ControllerStatus) error {
	if err := s.ensureBound(mode); err != nil {
		return err
	}

	switch status {
	case mastership.StatusPrimary:
		s.startTransmitting()
	case mastership.StatusBackup, mastership.StatusRecovery:
		s.startReceiving()
	default:
	}
	return nil
}

// StopService halts every timer and the send ticker without closing
// the socket, matching the original's stopService slot — a later
// StartService call resumes on the same bound connection.
func (s *Service) StopService() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
	s.connectedToPrimary = false
}

// Close permanently shuts the service down: the socket and the
// receive loop goroutine. Unlike StopService, this cannot be undone by
// a later StartService call.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTimersLocked()
	conn := s.conn
	s.mu.Unlock()

	close(s.stop)
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Service) stopTimersLocked() {
	if s.heartbeatTicker != nil {
		s.heartbeatTicker.Stop()
		s.heartbeatTicker = nil
	}
	if s.primaryDeadTimer != nil {
		s.primaryDeadTimer.Stop()
		s.primaryDeadTimer = nil
	}
	if s.primaryWaitingTimer != nil {
		s.primaryWaitingTimer.Stop()
		s.primaryWaitingTimer = nil
	}
	for id, t := range s.backupDeadTimers {
		t.Stop()
		delete(s.backupDeadTimers, id)
	}
}

func (s *Service) ensureBound(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}

	local, remote, err := s.addressesForMode(mode)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return fmt.Errorf("heartbeat: bind %s: %w", local, err)
	}
	s.conn = conn
	s.remoteAddr = remote
	// The original caches the send-side connection (not the local bind
	// address) as the heartbeat endpoint it advertises: for unicast
	// that's each side's statically-known peer, and for multicast/
	// broadcast it's the shared group address every node already
	// listens on, which is the useful thing to advertise there.
	s.cachedParams.heartbeat = newEndpoint(remote.IP.String(), remote.Port)

	s.wg.Add(1)
	go s.receiveLoop(conn)
	return nil
}

func (s *Service) addressesForMode(mode string) (local, remote *net.UDPAddr, err error) {
	switch normalizeMode(mode) {
	case "unicast":
		if s.localAddr == nil || s.remoteAddr == nil {
			return nil, nil, fmt.Errorf("heartbeat: unicast mode requires recovery-manager.id to be %q or %q", unicastPrimaryID, unicastBackupID)
		}
		return s.localAddr, s.remoteAddr, nil
	case "broadcast":
		port := s.broadcastPort
		return &net.UDPAddr{IP: net.IPv4zero, Port: port},
			&net.UDPAddr{IP: net.IPv4bcast, Port: port}, nil
	case "multicast":
		// Bound on the group port on every interface and sent straight
		// back to the group address: a deliberate simplification of
		// the original's real IGMP join (joinMulticastGroup), which
		// would need golang.org/x/net/ipv4 — no pack example pulls
		// that dependency in, and this still gives every node a shared
		// rendezvous address to heartbeat through.
		return &net.UDPAddr{IP: net.IPv4zero, Port: s.multicastAddr.Port}, s.multicastAddr, nil
	default:
		return nil, nil, fmt.Errorf("heartbeat: unknown communication mode %q", mode)
	}
}

func normalizeMode(mode string) string {
	switch mode {
	case "unicast", "Unicast", "UNICAST":
		return "unicast"
	case "multicast", "Multicast", "MULTICAST":
		return "multicast"
	case "broadcast", "Broadcast", "BROADCAST":
		return "broadcast"
	default:
		return mode
	}
}

func (s *Service) startTransmitting() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.state = stateTransmitting
	s.heartbeatTicker = time.NewTicker(s.heartbeatInterval)
	ticker := s.heartbeatTicker
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stop:
				return
			case _, ok := <-ticker.C:
				if !ok {
					return
				}
				s.sendEchoRequest()
			}
		}
	}()
}

func (s *Service) startReceiving() {
	s.mu.Lock()
	s.stopTimersLocked()
	s.state = stateReceiving
	shouldWait := !s.connectedToPrimary && !s.linkDown
	if shouldWait {
		s.primaryWaitingTimer = time.AfterFunc(s.primaryWaitingInterval, s.checkPrimary)
	}
	s.mu.Unlock()
}

func (s *Service) sendEchoRequest() {
	s.mu.Lock()
	s.hbCounter++
	msg := echoMessage{nodeID: s.nodeID, startNonce: s.startNonce, number: s.hbCounter}
	s.mu.Unlock()
	s.sendDatagram(cmdEchoRequest, msg)
}

// sendDatagram encodes cmd+payload and writes it to the configured
// remote address. payload may be nil for a command with no body.
func (s *Service) sendDatagram(cmd command, payload io.WriterTo) {
	data, err := encodeDatagram(cmd, payload)
	if err != nil {
		s.log.WithError(err).Warn("heartbeat: encode failed")
		return
	}

	s.mu.Lock()
	conn, remote := s.conn, s.remoteAddr
	s.mu.Unlock()
	if conn == nil || remote == nil {
		return
	}
	if _, err := conn.WriteToUDP(data, remote); err != nil {
		s.log.WithError(err).Warn("heartbeat: send failed")
	}
}

func (s *Service) receiveLoop(conn *net.UDPConn) {
	defer s.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			s.log.WithError(err).Warn("heartbeat: receive failed")
			return
		}
		s.handleDatagram(buf[:n], addr)
	}
}

func (s *Service) handleDatagram(data []byte, from *net.UDPAddr) {
	cmd, rest, err := decodeCommand(data)
	if err != nil {
		s.log.WithError(err).Warn("heartbeat: malformed datagram")
		return
	}
	switch cmd {
	case cmdEchoRequest:
		s.processRequest(rest)
	case cmdEchoReply:
		s.processReply(rest)
	case cmdParamsUpdate:
		s.processParams(rest)
	default:
		s.log.WithField("command", cmd).Warn("heartbeat: unknown command")
	}
}
