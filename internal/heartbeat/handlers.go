package heartbeat

import (
	"bytes"
	"fmt"
	"time"
)

// processRequest handles an inbound ECHO_REQUEST: the original only
// ever reacts to these while receiving (heartbeat_mode == BACKUP,
// which this service sets for both a BACKUP and a RECOVERY status).
func (s *Service) processRequest(data []byte) {
	var msg echoMessage
	if _, err := msg.ReadFrom(bytes.NewReader(data)); err != nil {
		s.log.WithError(err).Warn("heartbeat: malformed ECHO_REQUEST")
		return
	}

	s.mu.Lock()
	if s.state != stateReceiving {
		s.mu.Unlock()
		return
	}

	if msg.nodeID == s.nodeID {
		if msg.startNonce == s.startNonce {
			// A heartbeat from ourselves, looped back.
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		err := fmt.Errorf("heartbeat: duplicate node id %d seen from a different process — change recovery-manager.id", msg.nodeID)
		s.log.Error(err)
		if s.onDuplicateNodeID != nil {
			s.onDuplicateNodeID(err)
		}
		return
	}

	s.resetPrimaryDeadTimerLocked()
	s.linkDown = false

	if s.primaryNodeID == defaultNodeID {
		s.primaryNodeID = msg.nodeID
	}
	newPrimary := !s.connectedToPrimary || msg.nodeID != s.primaryNodeID
	if newPrimary {
		s.primaryNodeID = msg.nodeID
		s.connectedToPrimary = true
	}
	nodeID := s.nodeID
	startNonce := s.startNonce
	params := s.cachedParams
	primaryID := msg.nodeID
	s.mu.Unlock()

	s.sendDatagram(cmdEchoReply, echoMessage{nodeID: nodeID, startNonce: startNonce, number: msg.number})

	if newPrimary {
		if s.onConnectionToPrimaryEstablished != nil {
			s.onConnectionToPrimaryEstablished(fmt.Sprintf("%d", primaryID))
		}
		s.sendDatagram(cmdParamsUpdate, params)
	}
}

// processReply handles an inbound ECHO_REPLY: only ever received by a
// transmitting (PRIMARY) node, from one of its backups.
func (s *Service) processReply(data []byte) {
	var msg echoMessage
	if _, err := msg.ReadFrom(bytes.NewReader(data)); err != nil {
		s.log.WithError(err).Warn("heartbeat: malformed ECHO_REPLY")
		return
	}
	if msg.nodeID == s.nodeID {
		return
	}

	s.mu.Lock()
	s.linkDown = false
	s.resetBackupDeadTimerLocked(msg.nodeID)
	alreadyEstablished := s.backupEstablished(msg.nodeID)
	if !alreadyEstablished {
		s.markBackupEstablishedLocked(msg.nodeID)
	}
	params := s.cachedParams
	s.mu.Unlock()

	if !alreadyEstablished {
		if s.onConnectionToBackupEstablished != nil {
			s.onConnectionToBackupEstablished(fmt.Sprintf("%d", msg.nodeID))
		}
		s.sendDatagram(cmdParamsUpdate, params)
	}
}

// processParams handles an inbound PARAMETERS_UPDATE.
func (s *Service) processParams(data []byte) {
	var msg paramsMessage
	if _, err := msg.ReadFrom(bytes.NewReader(data)); err != nil {
		s.log.WithError(err).Warn("heartbeat: malformed PARAMETERS_UPDATE")
		return
	}
	if msg.nodeID == s.nodeID {
		return
	}
	if s.onParamsChanged != nil {
		s.onParamsChanged(msg)
	}
}

// checkPrimary fires once primaryWaitingInterval elapses without ever
// having heard from a primary: this node promotes itself, the
// original's check_primary slot.
func (s *Service) checkPrimary() {
	s.mu.Lock()
	s.linkDown = true
	if s.primaryWaitingTimer != nil {
		s.primaryWaitingTimer.Stop()
		s.primaryWaitingTimer = nil
	}
	alreadyConnected := s.connectedToPrimary
	s.mu.Unlock()

	if alreadyConnected {
		return
	}
	if s.onModeChangedToPrimary != nil {
		s.onModeChangedToPrimary()
	}
	s.startTransmitting()
}

// primaryDeath fires when primaryDeadTimer expires without a reset:
// the original's primary_death slot.
func (s *Service) primaryDeath() {
	s.StopService()
	if s.onPrimaryDied != nil {
		s.onPrimaryDied()
	}
}

// backupDeath fires when a specific backup's dead timer expires: the
// original's backup_death slot.
func (s *Service) backupDeath(backupID int32) {
	s.mu.Lock()
	if t, ok := s.backupDeadTimers[backupID]; ok {
		t.Stop()
		delete(s.backupDeadTimers, backupID)
	}
	s.mu.Unlock()

	if s.onBackupDied != nil {
		s.onBackupDied(fmt.Sprintf("%d", backupID))
	}
}

func (s *Service) resetPrimaryDeadTimerLocked() {
	if s.primaryDeadTimer != nil {
		s.primaryDeadTimer.Stop()
	}
	s.primaryDeadTimer = time.AfterFunc(s.primaryDeadInterval, s.primaryDeath)
}

func (s *Service) resetBackupDeadTimerLocked(backupID int32) {
	if t, ok := s.backupDeadTimers[backupID]; ok {
		t.Stop()
	}
	s.backupDeadTimers[backupID] = time.AfterFunc(s.backupDeadInterval, func() {
		s.backupDeath(backupID)
	})
}

// backupEstablished reports whether onConnectionToBackupEstablished has
// already fired for backupID, mirroring the original's
// BackupTimerData.is_connection_to_backup_established flag.
func (s *Service) backupEstablished(backupID int32) bool {
	return s.establishedBackupsLocked[backupID]
}

func (s *Service) markBackupEstablishedLocked(backupID int32) {
	if s.establishedBackupsLocked == nil {
		s.establishedBackupsLocked = make(map[int32]bool)
	}
	s.establishedBackupsLocked[backupID] = true
}
