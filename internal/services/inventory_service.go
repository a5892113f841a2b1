package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/tradehall/backend/internal/models"
)

// InventoryService exposes the read path over inventory slots.
type InventoryService struct {
	db *sql.DB
}

func NewInventoryService(db *sql.DB) *InventoryService {
	return &InventoryService{db: db}
}

type inventoryItemResponse struct {
	WeaponName string  `json:"weapon_name"`
	Variant    *string `json:"variant"`
	Quantity   int     `json:"quantity"`
}

// GetUserInventory lists a user's inventory
// @Summary Get user inventory
// @Description List the weapons, variants and quantities a user holds
// @Tags inventory
// @Produce json
// @Param userId path int true "User ID"
// @Success 200 {array} inventoryItemResponse
// @Failure 400 {object} ErrorResponse
// @Router /inventory/{userId} [get]
func (is *InventoryService) GetUserInventory(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		SendErrorResponse(w, "Invalid user ID", http.StatusBadRequest, nil)
		return
	}

	rows, err := is.db.Query(`
		SELECT w.type, v.variant_name, i.quantity
		FROM inventory i
		JOIN weapons w ON w.id = i.weapon_id
		LEFT JOIN weapon_variants v ON v.id = i.variant_id
		WHERE i.user_id = $1
		ORDER BY i.id`, userID)
	if err != nil {
		log.Printf("[INVENTORY] Failed to fetch inventory for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch inventory", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	items := []inventoryItemResponse{}
	for rows.Next() {
		var weaponType int
		var variantName sql.NullString
		var item inventoryItemResponse
		if err := rows.Scan(&weaponType, &variantName, &item.Quantity); err != nil {
			SendErrorResponse(w, "Failed to fetch inventory", http.StatusInternalServerError, nil)
			return
		}
		item.WeaponName = models.WeaponTypeNames[weaponType]
		if variantName.Valid {
			item.Variant = &variantName.String
		}
		items = append(items, item)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}
