package mastership

import (
	"fmt"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
)

// EqualError is returned when a switch keeps answering EQUAL to a
// MASTER/SLAVE role push past maxTimesMeetEqual retries. The original's
// switch_equal_error is the direct analogue; it is the one failure mode
// changeSwitchRole does not just log, but also acts on, by de-allowlisting
// the switch.
type EqualError struct{ DPID ofconn.DPID }

func (e *EqualError) Error() string {
	return fmt.Sprintf("mastership: dpid=%#x refused role change with EQUAL past retry budget", uint64(e.DPID))
}

// TimeoutError is returned when a role-request round trip exceeds
// roleRequestTimeout. The original's switch_timeout_error is the direct
// analogue; changeSwitchRole only logs it.
type TimeoutError struct{ DPID ofconn.DPID }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mastership: dpid=%#x role-request timed out", uint64(e.DPID))
}
