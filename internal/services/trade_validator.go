package services

import (
	"database/sql"

	"github.com/tradehall/backend/internal/models"
)

// TradeItemRequest is one line of a create-offer request. WeaponID carries no
// shape validation so an unknown id, zero included, gets the ownership
// checker's per-line message rather than a generic validation failure.
type TradeItemRequest struct {
	WeaponID  int  `json:"weapon_id"`
	VariantID *int `json:"variant_id"`
	Quantity  int  `json:"quantity" validate:"required,gt=0"`
}

// TradeValidator runs the ownership checks shared by offer creation and
// settlement. All checks are read-only; lines are checked in order and the
// first failure wins.
type TradeValidator struct {
	db *sql.DB
}

func NewTradeValidator(db *sql.DB) *TradeValidator {
	return &TradeValidator{db: db}
}

// ValidateOwnership ensures the owner currently holds every requested line:
// the weapon exists, a given variant exists and belongs to that weapon, and
// the owner's inventory slot covers the quantity.
func (tv *TradeValidator) ValidateOwnership(owner *models.User, items []TradeItemRequest) error {
	if len(items) == 0 {
		return NewTradeValidationError("At least one item must be offered.")
	}

	for _, item := range items {
		weapon, err := tv.getWeapon(item.WeaponID)
		if err != nil {
			if err == sql.ErrNoRows {
				return NewTradeValidationError("Weapon with ID %d does not exist.", item.WeaponID)
			}
			return err
		}

		variantName := "No Variant"
		if item.VariantID != nil {
			variant, err := tv.getVariant(*item.VariantID)
			if err != nil {
				if err == sql.ErrNoRows {
					return NewTradeValidationError("Variant with ID %d does not exist.", *item.VariantID)
				}
				return err
			}
			if variant.WeaponID != weapon.ID {
				return NewTradeValidationError("Variant %s does not belong to Weapon %s.", variant.VariantName, weapon.TypeName())
			}
			variantName = variant.VariantName
		}

		var quantity int
		err = tv.db.QueryRow(`
			SELECT quantity FROM inventory
			WHERE user_id = $1 AND weapon_id = $2 AND variant_id IS NOT DISTINCT FROM $3`,
			owner.ID, item.WeaponID, variantArg(item.VariantID)).Scan(&quantity)

		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == sql.ErrNoRows || quantity < item.Quantity {
			return NewTradeValidationError("User %s does not have enough %s %s.", owner.Username, weapon.TypeName(), variantName)
		}
	}

	return nil
}

func (tv *TradeValidator) getWeapon(weaponID int) (*models.Weapon, error) {
	var weapon models.Weapon
	err := tv.db.QueryRow(`SELECT id, type FROM weapons WHERE id = $1`, weaponID).
		Scan(&weapon.ID, &weapon.Type)
	if err != nil {
		return nil, err
	}
	return &weapon, nil
}

func (tv *TradeValidator) getVariant(variantID int) (*models.WeaponVariant, error) {
	var variant models.WeaponVariant
	err := tv.db.QueryRow(`SELECT id, weapon_id, variant_name FROM weapon_variants WHERE id = $1`, variantID).
		Scan(&variant.ID, &variant.WeaponID, &variant.VariantName)
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

// variantArg converts an optional variant id to a SQL argument, so that
// IS NOT DISTINCT FROM matches NULL slots.
func variantArg(variantID *int) any {
	if variantID == nil {
		return nil
	}
	return *variantID
}
