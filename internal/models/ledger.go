package models

import "time"

// LedgerRecord is the audit row written once per settled trade line. Rows
// sharing a Reference were applied in the same settlement. Reversed is a
// forward-compatibility marker; no reversal operation exists.
type LedgerRecord struct {
	ID           int       `json:"id" db:"id"`
	TradeOfferID int       `json:"trade_offer_id" db:"trade_offer_id"`
	Reference    string    `json:"reference" db:"reference"`
	FromUserID   int       `json:"from_user_id" db:"from_user_id"`
	ToUserID     int       `json:"to_user_id" db:"to_user_id"`
	WeaponID     int       `json:"weapon_id" db:"weapon_id"`
	VariantID    *int      `json:"variant_id,omitempty" db:"variant_id"`
	Quantity     int       `json:"quantity" db:"quantity"`
	Reversed     bool      `json:"reversed" db:"reversed"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
