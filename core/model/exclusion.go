package model

// Exclusion is an (order, courier) pairing that must not be offered again.
type Exclusion struct {
	OrderID   string `json:"order_id"`
	CourierID string `json:"courier_id"`
}
