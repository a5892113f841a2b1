package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/tradehall/backend/internal/models"
)

// TradeSettlementService moves inventory between the two parties of an
// accepted offer. The whole exchange runs inside the caller's transaction:
// every touched slot is locked up front, both sides are re-validated against
// current quantities, and only then are the debits, credits and ledger rows
// applied. Any failure leaves the ledger untouched.
type TradeSettlementService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewTradeSettlementService(db *sql.DB, redisClient *redis.Client) *TradeSettlementService {
	return &TradeSettlementService{db: db, redis: redisClient}
}

type inventorySlot struct {
	userID   int
	weaponID int
}

type lockedSlot struct {
	quantity  int
	variantID *int
	found     bool
}

// ExecuteTradeTx settles a pending offer inside tx. Items must be loaded with
// their joined weapon/variant labels. Returns the settlement reference shared
// by the ledger rows it wrote.
func (s *TradeSettlementService) ExecuteTradeTx(tx *sql.Tx, offer *models.TradeOffer, items []models.TradeItem) (string, error) {
	senderItems, receiverItems := partitionTradeItems(items)

	locked, err := s.lockSlots(tx, offer, senderItems, receiverItems)
	if err != nil {
		return "", err
	}

	// Quantities may have moved since the offer was created; this is the last
	// check before mutation and runs under the row locks taken above.
	if err := validateLockedSide(locked, offer.SenderID, offer.SenderUsername, senderItems); err != nil {
		return "", err
	}
	if err := validateLockedSide(locked, offer.ReceiverID, offer.ReceiverUsername, receiverItems); err != nil {
		return "", err
	}

	reference := uuid.New().String()

	for _, item := range senderItems {
		if err := s.moveLine(tx, offer, reference, item, offer.SenderID, offer.SenderUsername, offer.ReceiverID); err != nil {
			return "", err
		}
	}
	for _, item := range receiverItems {
		if err := s.moveLine(tx, offer, reference, item, offer.ReceiverID, offer.ReceiverUsername, offer.SenderID); err != nil {
			return "", err
		}
	}

	log.Printf("[SETTLEMENT] Trade offer %d settled, reference %s, %d lines", offer.ID, reference, len(items))
	return reference, nil
}

func partitionTradeItems(items []models.TradeItem) (senderItems, receiverItems []models.TradeItem) {
	for _, item := range items {
		if item.IsOfferedBySender {
			senderItems = append(senderItems, item)
		} else {
			receiverItems = append(receiverItems, item)
		}
	}
	return senderItems, receiverItems
}

// lockSlots locks each giving party's inventory slot in consistent
// (user_id, weapon_id) order to prevent deadlocks between concurrent trades.
// Missing slots are recorded rather than failed here so that validation can
// report failures in line order.
func (s *TradeSettlementService) lockSlots(tx *sql.Tx, offer *models.TradeOffer, senderItems, receiverItems []models.TradeItem) (map[inventorySlot]lockedSlot, error) {
	seen := make(map[inventorySlot]bool)
	var slots []inventorySlot
	for _, item := range senderItems {
		slot := inventorySlot{userID: offer.SenderID, weaponID: item.WeaponID}
		if !seen[slot] {
			seen[slot] = true
			slots = append(slots, slot)
		}
	}
	for _, item := range receiverItems {
		slot := inventorySlot{userID: offer.ReceiverID, weaponID: item.WeaponID}
		if !seen[slot] {
			seen[slot] = true
			slots = append(slots, slot)
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].userID != slots[j].userID {
			return slots[i].userID < slots[j].userID
		}
		return slots[i].weaponID < slots[j].weaponID
	})

	locked := make(map[inventorySlot]lockedSlot, len(slots))
	for _, slot := range slots {
		var quantity int
		var variantID sql.NullInt64
		err := tx.QueryRow(`
			SELECT quantity, variant_id FROM inventory
			WHERE user_id = $1 AND weapon_id = $2
			FOR UPDATE`, slot.userID, slot.weaponID).Scan(&quantity, &variantID)
		if err == sql.ErrNoRows {
			locked[slot] = lockedSlot{}
			continue
		}
		if err != nil {
			return nil, err
		}
		ls := lockedSlot{quantity: quantity, found: true}
		if variantID.Valid {
			v := int(variantID.Int64)
			ls.variantID = &v
		}
		locked[slot] = ls
	}

	return locked, nil
}

func validateLockedSide(locked map[inventorySlot]lockedSlot, userID int, username string, items []models.TradeItem) error {
	for _, item := range items {
		ls := locked[inventorySlot{userID: userID, weaponID: item.WeaponID}]
		if !ls.found || !variantsEqual(ls.variantID, item.VariantID) || ls.quantity < item.Quantity {
			return NewTradeValidationError("User %s does not have enough %s %s.", username, item.WeaponName(), item.VariantLabel())
		}
	}
	return nil
}

func variantsEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// moveLine debits the giver, credits the recipient (creating the slot when
// absent) and writes the audit row for one trade line.
func (s *TradeSettlementService) moveLine(tx *sql.Tx, offer *models.TradeOffer, reference string, item models.TradeItem, fromUserID int, fromUsername string, toUserID int) error {
	result, err := tx.Exec(`
		UPDATE inventory
		SET quantity = quantity - $1
		WHERE user_id = $2 AND weapon_id = $3 AND variant_id IS NOT DISTINCT FROM $4 AND quantity >= $1`,
		item.Quantity, fromUserID, item.WeaponID, variantArg(item.VariantID))
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return NewTradeValidationError("User %s does not have enough %s %s.", fromUsername, item.WeaponName(), item.VariantLabel())
	}

	if err := s.creditInventory(tx, toUserID, item); err != nil {
		return err
	}

	return s.createLedgerRecord(tx, offer.ID, reference, fromUserID, toUserID, item)
}

func (s *TradeSettlementService) creditInventory(tx *sql.Tx, userID int, item models.TradeItem) error {
	var entryID int
	err := tx.QueryRow(`
		SELECT id FROM inventory
		WHERE user_id = $1 AND weapon_id = $2 AND variant_id IS NOT DISTINCT FROM $3`,
		userID, item.WeaponID, variantArg(item.VariantID)).Scan(&entryID)

	if err == sql.ErrNoRows {
		_, err = tx.Exec(`
			INSERT INTO inventory (user_id, weapon_id, variant_id, quantity)
			VALUES ($1, $2, $3, $4)`,
			userID, item.WeaponID, variantArg(item.VariantID), item.Quantity)
		return err
	}
	if err != nil {
		return err
	}

	_, err = tx.Exec(`UPDATE inventory SET quantity = quantity + $1 WHERE id = $2`,
		item.Quantity, entryID)
	return err
}

func (s *TradeSettlementService) createLedgerRecord(tx *sql.Tx, offerID int, reference string, fromUserID, toUserID int, item models.TradeItem) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_records (trade_offer_id, reference, from_user_id, to_user_id, weapon_id, variant_id, quantity, reversed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		offerID, reference, fromUserID, toUserID, item.WeaponID, variantArg(item.VariantID), item.Quantity, false, time.Now())
	return err
}

// QueueSettledTrade pushes a settlement summary onto the feed consumed by
// reporting. Best effort after commit; a missing Redis client is tolerated.
func (s *TradeSettlementService) QueueSettledTrade(offer *models.TradeOffer, reference string) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(map[string]any{
		"trade_offer_id": offer.ID,
		"reference":      reference,
		"sender_id":      offer.SenderID,
		"receiver_id":    offer.ReceiverID,
		"settled_at":     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to encode settled trade %d: %v", offer.ID, err)
		return
	}

	if err := s.redis.RPush(context.Background(), "settled_trades", data).Err(); err != nil {
		log.Printf("[SETTLEMENT] Failed to queue settled trade %d: %v", offer.ID, err)
	}
}
