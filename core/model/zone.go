package model

// Priority ranks zones by how they were formed.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Zone is a transient geographic cluster of pending orders.
type Zone struct {
	ID       string   `json:"id"`
	Center   Point    `json:"center"`
	Radius   float64  `json:"radius"`
	Orders   []Order  `json:"orders"`
	Priority Priority `json:"priority"`
}

// Size returns the number of member orders.
func (z Zone) Size() int { return len(z.Orders) }

// Products sums member products.
func (z Zone) Products() Products {
	p := Products{}
	for _, o := range z.Orders {
		p = p.Add(o.Products)
	}
	return p
}
