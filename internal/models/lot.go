package models

// Lot is one item up for auction. The camelCase JSON tags match the shape of
// the documents stored in a room's player_queue column, which presentation
// clients read back directly.
type Lot struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	BasePrice int64  `json:"basePrice"`
	Role      string `json:"role,omitempty"`
	Country   string `json:"country,omitempty"`
}
