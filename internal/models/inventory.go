package models

// InventoryEntry is the quantity of a weapon held by a user. Unique per
// (user_id, weapon_id); the variant is an attribute of that slot. Quantity
// never goes negative, and a slot that reaches zero keeps its row.
type InventoryEntry struct {
	ID        int  `json:"id" db:"id"`
	UserID    int  `json:"user_id" db:"user_id"`
	WeaponID  int  `json:"weapon_id" db:"weapon_id"`
	VariantID *int `json:"variant_id,omitempty" db:"variant_id"`
	Quantity  int  `json:"quantity" db:"quantity"`

	// Joined fields (not always populated).
	WeaponName  string `json:"weapon_name,omitempty"`
	VariantName string `json:"variant,omitempty"`
}
