package model

// Depot is a pickup point where couriers collect goods.
type Depot struct {
	ID      string         `json:"id" bson:"_id"`
	Point   Point          `json:"point" bson:"point"`
	Address string         `json:"address" bson:"address"`
	Stock   map[string]int `json:"stock,omitempty" bson:"stock,omitempty"`
}
