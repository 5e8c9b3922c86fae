package dispatch

import (
	"net/http"

	"github.com/aquamarket/dispatch/core/model"
)

// ExclusionLedger is the banned (order, courier) pairing list.
type ExclusionLedger interface {
	Snapshot() []model.Exclusion
	Remove(orderID, courierID string)
}

// NewExclusionsHandler lists exclusions on GET and lifts one on DELETE with
// order_id and courier_id query parameters.
func NewExclusionsHandler(ledger ExclusionLedger, token string) http.Handler {
	return requireToken(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			list := ledger.Snapshot()
			if list == nil {
				list = []model.Exclusion{}
			}
			writeJSON(w, http.StatusOK, list)
		case http.MethodDelete:
			orderID, courierID := r.URL.Query().Get("order_id"), r.URL.Query().Get("courier_id")
			if orderID == "" || courierID == "" {
				http.Error(w, "order_id and courier_id are required", http.StatusBadRequest)
				return
			}
			ledger.Remove(orderID, courierID)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
}
