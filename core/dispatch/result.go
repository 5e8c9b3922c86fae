package dispatch

import (
	"sort"
	"time"

	"github.com/aquamarket/dispatch/core/model"
)

// Stage is a state of the distribution run state machine.
type Stage string

const (
	StageIdle          Stage = "idle"
	StageBuildingZones Stage = "building_zones"
	StageAllocating    Stage = "allocating"
	StageSequencing    Stage = "sequencing"
	StageCommitting    Stage = "committing"
	StageSwapping      Stage = "swapping"
	StageReconciling   Stage = "reconciling_leftovers"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

// Leftover is an order the run could not place.
type Leftover struct {
	OrderID string `json:"order_id"`
	Kind    Kind   `json:"kind"`
	Reason  string `json:"reason"`
}

// CommitFailure is an order/courier pairing whose write was skipped.
type CommitFailure struct {
	OrderID   string `json:"order_id"`
	CourierID string `json:"courier_id"`
	Kind      Kind   `json:"kind"`
	Reason    string `json:"reason"`
}

// RunResult is the structured outcome of one distribution run. It is
// returned for successful, failed and skipped runs alike.
type RunResult struct {
	ID                string              `json:"id"`
	Trigger           string              `json:"trigger"`
	Success           bool                `json:"success"`
	Skipped           bool                `json:"skipped,omitempty"`
	Stage             Stage               `json:"stage"`
	FailedStage       Stage               `json:"failed_stage,omitempty"`
	Kind              Kind                `json:"kind,omitempty"`
	Reason            string              `json:"reason,omitempty"`
	ZonesCreated      int                 `json:"zones_created"`
	OrdersDistributed int                 `json:"orders_distributed"`
	OrdersUnassigned  int                 `json:"orders_unassigned"`
	LeftoversPlaced   int                 `json:"leftovers_placed"`
	CouriersUsed      int                 `json:"couriers_used"`
	Swaps             int                 `json:"swaps"`
	SolverUsed        bool                `json:"solver_used,omitempty"`
	SolverFallback    bool                `json:"solver_fallback,omitempty"`
	Assignments       map[string]string   `json:"assignments,omitempty"`
	Routes            map[string][]string `json:"routes,omitempty"`
	Unassigned        []Leftover          `json:"unassigned,omitempty"`
	Failures          []CommitFailure     `json:"failures,omitempty"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        time.Time           `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r RunResult) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// CourierIDs returns the sorted ids of couriers that received orders.
func (r RunResult) CourierIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range r.Assignments {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Exclusions answers whether an (order, courier) pairing is banned.
type Exclusions interface {
	Excluded(orderID, courierID string) bool
	// Restrictions returns banned couriers keyed by order id.
	Restrictions() map[string][]string
}

type noExclusions struct{}

func (noExclusions) Excluded(string, string) bool      { return false }
func (noExclusions) Restrictions() map[string][]string { return nil }

func excludedAny(ex Exclusions, orders []model.Order, courierID string) bool {
	for _, o := range orders {
		if ex.Excluded(o.ID, courierID) {
			return true
		}
	}
	return false
}
