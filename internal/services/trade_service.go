package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/tradehall/backend/internal/models"
)

// TradeService is the public face of the trade offer lifecycle: creating
// offers (validate then persist), accepting or rejecting them, and the
// history listing. Settlement itself is delegated to TradeSettlementService
// and runs in the same database transaction as the status transition.
type TradeService struct {
	db         *sql.DB
	validator  *ValidationHelper
	ownership  *TradeValidator
	settlement *TradeSettlementService
}

type CreateTradeOfferRequest struct {
	SenderID       int                `json:"sender_id" validate:"required"`
	ReceiverID     int                `json:"receiver_id" validate:"required"`
	OfferedItems   []TradeItemRequest `json:"offered_items" validate:"dive"`
	RequestedItems []TradeItemRequest `json:"requested_items" validate:"dive"`
}

type ProcessTradeOfferRequest struct {
	ReceiverID int    `json:"receiver_id" validate:"required"`
	Action     string `json:"action" validate:"required"`
}

func NewTradeService(db *sql.DB, redisClient *redis.Client) *TradeService {
	return &TradeService{
		db:         db,
		validator:  NewValidationHelper(),
		ownership:  NewTradeValidator(db),
		settlement: NewTradeSettlementService(db, redisClient),
	}
}

// CreateTradeOffer handles trade offer creation
// @Summary Create a trade offer
// @Description Propose a bilateral item trade between a sender and a receiver
// @Tags trades
// @Accept json
// @Produce json
// @Param request body CreateTradeOfferRequest true "Trade offer data"
// @Success 201 {object} map[string]int
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /trade-offers [post]
func (ts *TradeService) CreateTradeOffer(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateTradeOfferRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	offer, err := ts.createTradeOffer(req.SenderID, req.ReceiverID, req.OfferedItems, req.RequestedItems)
	if err != nil {
		var validationErr *TradeValidationError
		switch {
		case errors.As(err, &validationErr):
			SendErrorResponse(w, validationErr.Reason, http.StatusBadRequest, nil)
		case errors.Is(err, sql.ErrNoRows):
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		default:
			log.Printf("[TRADE] Failed to create trade offer: %v", err)
			SendErrorResponse(w, "Failed to create trade offer", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int{"trade_offer_id": offer.ID})
}

// ProcessTradeOffer handles accepting or rejecting a trade offer
// @Summary Accept or reject a trade offer
// @Description Only the receiver of a pending offer may accept or reject it
// @Tags trades
// @Accept json
// @Produce json
// @Param tradeOfferId path int true "Trade offer ID"
// @Param request body ProcessTradeOfferRequest true "Action data"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /trade-offers/{tradeOfferId} [patch]
func (ts *TradeService) ProcessTradeOffer(w http.ResponseWriter, r *http.Request) {
	offerID, err := strconv.Atoi(chi.URLParam(r, "tradeOfferId"))
	if err != nil {
		SendErrorResponse(w, "Invalid trade offer ID", http.StatusBadRequest, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ProcessTradeOfferRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	action := strings.ToUpper(req.Action)
	if action != "ACCEPT" && action != "REJECT" {
		SendErrorResponse(w, "Invalid action. Use 'ACCEPT' or 'REJECT'.", http.StatusBadRequest, nil)
		return
	}

	offer, err := ts.processTradeOffer(offerID, req.ReceiverID, action)
	if err != nil {
		var validationErr *TradeValidationError
		if errors.As(err, &validationErr) {
			SendErrorResponse(w, validationErr.Reason, http.StatusBadRequest, nil)
			return
		}
		log.Printf("[TRADE] Failed to process trade offer %d: %v", offerID, err)
		SendErrorResponse(w, "Failed to process trade offer", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"trade_offer_id": offer.ID,
		"status":         offer.StatusDisplay(),
	})
}

// TradeOfferHistory lists trade offers with optional filters
// @Summary Trade offer history
// @Description List a user's offers filtered by direction, status and date range
// @Tags trades
// @Produce json
// @Param user_id query int true "User ID"
// @Param type query string false "sent or received"
// @Param status query int false "Status filter"
// @Param start_date query string false "Inclusive start date (YYYY-MM-DD)"
// @Param end_date query string false "Inclusive end date (YYYY-MM-DD)"
// @Success 200 {array} models.TradeOfferSummary
// @Failure 400 {object} ErrorResponse
// @Router /trade-offers/history [get]
func (ts *TradeService) TradeOfferHistory(w http.ResponseWriter, r *http.Request) {
	userIDParam := r.URL.Query().Get("user_id")
	if userIDParam == "" {
		SendErrorResponse(w, "user_id is required", http.StatusBadRequest, nil)
		return
	}
	userID, err := strconv.Atoi(userIDParam)
	if err != nil {
		SendErrorResponse(w, "Invalid user_id", http.StatusBadRequest, nil)
		return
	}

	conditions := []string{"(o.sender_id = $1 OR o.receiver_id = $1)"}
	args := []any{userID}
	argIndex := 2

	switch strings.ToLower(r.URL.Query().Get("type")) {
	case "":
	case "sent":
		conditions[0] = "o.sender_id = $1"
	case "received":
		conditions[0] = "o.receiver_id = $1"
	default:
		SendErrorResponse(w, "Invalid type parameter", http.StatusBadRequest, nil)
		return
	}

	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		status, err := strconv.Atoi(statusParam)
		if err != nil {
			SendErrorResponse(w, "Invalid status parameter", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("o.status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}

	if startParam := r.URL.Query().Get("start_date"); startParam != "" {
		if start, err := time.Parse("2006-01-02", startParam); err == nil {
			conditions = append(conditions, fmt.Sprintf("o.created_at >= $%d", argIndex))
			args = append(args, start)
			argIndex++
		}
	}

	if endParam := r.URL.Query().Get("end_date"); endParam != "" {
		if end, err := time.Parse("2006-01-02", endParam); err == nil {
			// Inclusive through the end of the day.
			conditions = append(conditions, fmt.Sprintf("o.created_at < $%d", argIndex))
			args = append(args, end.AddDate(0, 0, 1))
			argIndex++
		}
	}

	query := `
		SELECT o.id, su.username, ru.username, o.status, o.created_at
		FROM trade_offers o
		JOIN users su ON su.id = o.sender_id
		JOIN users ru ON ru.id = o.receiver_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY o.created_at DESC`

	rows, err := ts.db.Query(query, args...)
	if err != nil {
		log.Printf("[TRADE] Failed to fetch trade history for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch trade history", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	offers := []models.TradeOfferSummary{}
	for rows.Next() {
		var summary models.TradeOfferSummary
		if err := rows.Scan(&summary.ID, &summary.SenderUsername, &summary.ReceiverUsername, &summary.Status, &summary.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch trade history", http.StatusInternalServerError, nil)
			return
		}
		summary.StatusDisplay = models.TradeStatusNames[summary.Status]
		offers = append(offers, summary)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offers)
}

// createTradeOffer validates the sender's side of the proposal and persists
// the offer with its line items as one unit. The receiver's side is
// deliberately left unchecked until acceptance.
func (ts *TradeService) createTradeOffer(senderID, receiverID int, offeredItems, requestedItems []TradeItemRequest) (*models.TradeOffer, error) {
	sender, err := ts.getUserByID(senderID)
	if err != nil {
		return nil, err
	}

	if _, err := ts.getUserByID(receiverID); err != nil {
		return nil, err
	}

	if err := ts.ownership.ValidateOwnership(sender, offeredItems); err != nil {
		return nil, err
	}

	tx, err := ts.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	offer := &models.TradeOffer{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     models.TradeStatusPending,
	}
	err = tx.QueryRow(`
		INSERT INTO trade_offers (sender_id, receiver_id, status, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`,
		senderID, receiverID, models.TradeStatusPending).Scan(&offer.ID, &offer.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := ts.createTradeItems(tx, offer.ID, offeredItems, true); err != nil {
		return nil, err
	}
	if err := ts.createTradeItems(tx, offer.ID, requestedItems, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[TRADE] Trade offer created with ID %d", offer.ID)
	return offer, nil
}

func (ts *TradeService) createTradeItems(tx *sql.Tx, offerID int, items []TradeItemRequest, offeredBySender bool) error {
	for _, item := range items {
		_, err := tx.Exec(`
			INSERT INTO trade_items (offer_id, weapon_id, variant_id, quantity, is_offered_by_sender)
			VALUES ($1, $2, $3, $4, $5)`,
			offerID, item.WeaponID, variantArg(item.VariantID), item.Quantity, offeredBySender)
		if err != nil {
			return err
		}
	}
	return nil
}

// processTradeOffer accepts or rejects a pending offer on behalf of its
// receiver. On accept, settlement and the status transition commit together;
// a settlement failure leaves the offer pending and the ledger untouched.
func (ts *TradeService) processTradeOffer(offerID, receiverID int, action string) (*models.TradeOffer, error) {
	offer, err := ts.getPendingOffer(offerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NewTradeValidationError("Trade offer %d does not exist or is already processed.", offerID)
		}
		return nil, err
	}

	if offer.ReceiverID != receiverID {
		return nil, NewTradeValidationError("Only the receiver can accept or reject this trade.")
	}

	switch action {
	case "ACCEPT":
		items, err := ts.fetchTradeItems(offerID)
		if err != nil {
			return nil, err
		}

		tx, err := ts.db.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		reference, err := ts.settlement.ExecuteTradeTx(tx, offer, items)
		if err != nil {
			return nil, err
		}

		if err := transitionOfferStatus(tx, offer.ID, models.TradeStatusAccepted); err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}

		offer.Status = models.TradeStatusAccepted
		ts.settlement.QueueSettledTrade(offer, reference)
		log.Printf("[TRADE] Trade offer %d accepted by user %d", offer.ID, receiverID)

	case "REJECT":
		if err := transitionOfferStatus(ts.db, offer.ID, models.TradeStatusRejected); err != nil {
			return nil, err
		}
		offer.Status = models.TradeStatusRejected
		log.Printf("[TRADE] Trade offer %d rejected by user %d", offer.ID, receiverID)
	}

	return offer, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// transitionOfferStatus moves a still-pending offer to a terminal status.
// The status guard closes the race between two concurrent transitions of the
// same offer: whichever commits second matches zero rows and fails here
// instead of settling the offer again.
func transitionOfferStatus(ex execer, offerID, status int) error {
	result, err := ex.Exec(`UPDATE trade_offers SET status = $1 WHERE id = $2 AND status = $3`,
		status, offerID, models.TradeStatusPending)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return NewTradeValidationError("Trade offer %d does not exist or is already processed.", offerID)
	}
	return nil
}

func (ts *TradeService) getUserByID(userID int) (*models.User, error) {
	var user models.User
	err := ts.db.QueryRow(`SELECT id, username, user_type FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Username, &user.UserType)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// getPendingOffer covers "not found" and "already processed" with one lookup.
func (ts *TradeService) getPendingOffer(offerID int) (*models.TradeOffer, error) {
	var offer models.TradeOffer
	err := ts.db.QueryRow(`
		SELECT o.id, o.sender_id, o.receiver_id, o.status, o.created_at, su.username, ru.username
		FROM trade_offers o
		JOIN users su ON su.id = o.sender_id
		JOIN users ru ON ru.id = o.receiver_id
		WHERE o.id = $1 AND o.status = $2`,
		offerID, models.TradeStatusPending).Scan(
		&offer.ID, &offer.SenderID, &offer.ReceiverID, &offer.Status, &offer.CreatedAt,
		&offer.SenderUsername, &offer.ReceiverUsername)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (ts *TradeService) fetchTradeItems(offerID int) ([]models.TradeItem, error) {
	rows, err := ts.db.Query(`
		SELECT ti.id, ti.offer_id, ti.weapon_id, ti.variant_id, ti.quantity, ti.is_offered_by_sender, w.type, COALESCE(v.variant_name, '')
		FROM trade_items ti
		JOIN weapons w ON w.id = ti.weapon_id
		LEFT JOIN weapon_variants v ON v.id = ti.variant_id
		WHERE ti.offer_id = $1
		ORDER BY ti.id`, offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.TradeItem
	for rows.Next() {
		var item models.TradeItem
		var variantID sql.NullInt64
		err := rows.Scan(&item.ID, &item.OfferID, &item.WeaponID, &variantID, &item.Quantity,
			&item.IsOfferedBySender, &item.WeaponType, &item.VariantName)
		if err != nil {
			return nil, err
		}
		if variantID.Valid {
			v := int(variantID.Int64)
			item.VariantID = &v
		}
		items = append(items, item)
	}

	return items, rows.Err()
}
