package models

import "time"

// Trade offer lifecycle states. Pending is the only non-terminal state.
const (
	TradeStatusPending  = 1
	TradeStatusAccepted = 2
	TradeStatusRejected = 3
)

var TradeStatusNames = map[int]string{
	TradeStatusPending:  "Pending",
	TradeStatusAccepted: "Accepted",
	TradeStatusRejected: "Rejected",
}

type TradeOffer struct {
	ID         int       `json:"id" db:"id"`
	SenderID   int       `json:"sender_id" db:"sender_id"`
	ReceiverID int       `json:"receiver_id" db:"receiver_id"`
	Status     int       `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`

	// Joined fields (not always populated).
	SenderUsername   string `json:"sender_username,omitempty"`
	ReceiverUsername string `json:"receiver_username,omitempty"`
}

// StatusDisplay returns the display label for the offer status.
func (o TradeOffer) StatusDisplay() string {
	if name, ok := TradeStatusNames[o.Status]; ok {
		return name
	}
	return "Unknown"
}

// TradeItem is one line of a trade offer. IsOfferedBySender distinguishes
// the sender's side (true) from the items requested of the receiver (false).
// Immutable after creation; cascade-deleted with its offer.
type TradeItem struct {
	ID                int  `json:"id" db:"id"`
	OfferID           int  `json:"offer_id" db:"offer_id"`
	WeaponID          int  `json:"weapon_id" db:"weapon_id"`
	VariantID         *int `json:"variant_id,omitempty" db:"variant_id"`
	Quantity          int  `json:"quantity" db:"quantity"`
	IsOfferedBySender bool `json:"is_offered_by_sender" db:"is_offered_by_sender"`

	// Joined fields (not always populated).
	WeaponType  int    `json:"-"`
	VariantName string `json:"-"`
}

// WeaponName returns the display label of the line's weapon type when it was
// loaded with the joined fields populated.
func (ti TradeItem) WeaponName() string {
	if name, ok := WeaponTypeNames[ti.WeaponType]; ok {
		return name
	}
	return "Unknown"
}

// VariantLabel is the variant name used in validation messages.
func (ti TradeItem) VariantLabel() string {
	if ti.VariantID == nil {
		return "No Variant"
	}
	return ti.VariantName
}

// TradeOfferSummary is the history-listing projection of an offer.
type TradeOfferSummary struct {
	ID               int       `json:"id"`
	SenderUsername   string    `json:"sender_username"`
	ReceiverUsername string    `json:"receiver_username"`
	Status           int       `json:"status"`
	StatusDisplay    string    `json:"status_display"`
	CreatedAt        time.Time `json:"created_at"`
}
