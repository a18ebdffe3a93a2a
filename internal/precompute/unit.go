package precompute

import (
	"fmt"
	"time"
)

// UnitState tracks one (stock, date) unit of work
type UnitState int

const (
	StatePending UnitState = iota
	StateScanningPeers
	StateComputingFutureReturn
	StateClassified
	StatePersisted
	StateSkipped
)

func (s UnitState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateScanningPeers:
		return "scanning_peers"
	case StateComputingFutureReturn:
		return "computing_future_return"
	case StateClassified:
		return "classified"
	case StatePersisted:
		return "persisted"
	case StateSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ComputationError is an unexpected failure inside one unit. The unit is
// dropped and the run continues.
type ComputationError struct {
	Stock string
	Date  time.Time
	State UnitState
	Err   error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computing %s on %s failed while %s: %v", e.Stock, e.Date.Format("2006-01-02"), e.State, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// UnitStats counts unit outcomes for one stock
type UnitStats struct {
	Produced         int
	WithFutureReturn int
	Skipped          int
	Failed           int
}

func (u *UnitStats) add(o UnitStats) {
	u.Produced += o.Produced
	u.WithFutureReturn += o.WithFutureReturn
	u.Skipped += o.Skipped
	u.Failed += o.Failed
}
