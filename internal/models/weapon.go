package models

// Weapon types. The set is fixed; rows in the weapons table carry one of
// these type codes.
const (
	WeaponSword = 1
	WeaponStaff = 2
	WeaponAxe   = 3
)

var WeaponTypeNames = map[int]string{
	WeaponSword: "Sword",
	WeaponStaff: "Staff",
	WeaponAxe:   "Axe",
}

type Weapon struct {
	ID   int `json:"id" db:"id"`
	Type int `json:"type" db:"type"`
}

// TypeName returns the display label for the weapon type.
func (w Weapon) TypeName() string {
	if name, ok := WeaponTypeNames[w.Type]; ok {
		return name
	}
	return "Unknown"
}

// WeaponVariant is a named sub-type owned by exactly one weapon.
type WeaponVariant struct {
	ID          int    `json:"id" db:"id"`
	WeaponID    int    `json:"weapon_id" db:"weapon_id"`
	VariantName string `json:"variant_name" db:"variant_name"`
}
