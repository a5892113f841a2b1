package services

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/tradehall/backend/internal/models"
)

func intPtr(v int) *int {
	return &v
}

func pendingOffer() *models.TradeOffer {
	return &models.TradeOffer{
		ID:               7,
		SenderID:         1,
		ReceiverID:       2,
		Status:           models.TradeStatusPending,
		SenderUsername:   "alice",
		ReceiverUsername: "bob",
	}
}

// One Sword/Red from the sender against one Staff/Blue from the receiver.
func swordForStaffItems() []models.TradeItem {
	return []models.TradeItem{
		{ID: 1, OfferID: 7, WeaponID: 10, VariantID: intPtr(100), Quantity: 1, IsOfferedBySender: true, WeaponType: models.WeaponSword, VariantName: "Red"},
		{ID: 2, OfferID: 7, WeaponID: 20, VariantID: intPtr(200), Quantity: 1, IsOfferedBySender: false, WeaponType: models.WeaponStaff, VariantName: "Blue"},
	}
}

func TestTradeSettlementService_ExecuteTradeTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTradeSettlementService(db, nil)

	t.Run("successful two-way settlement", func(t *testing.T) {
		mock.ExpectBegin()

		// Lock giver slots in (user_id, weapon_id) order
		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(3, 100))
		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(2, 20).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(2, 200))

		// Sender line: debit sender, credit receiver (new slot), ledger row
		mock.ExpectExec("UPDATE inventory SET quantity = quantity - \\$1").
			WithArgs(1, 1, 10, 100).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id FROM inventory").
			WithArgs(2, 10, 100).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO inventory").
			WithArgs(2, 10, 100, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_records").
			WithArgs(7, sqlmock.AnyArg(), 1, 2, 10, 100, 1, false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Receiver line: debit receiver, credit sender (new slot), ledger row
		mock.ExpectExec("UPDATE inventory SET quantity = quantity - \\$1").
			WithArgs(1, 2, 20, 200).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id FROM inventory").
			WithArgs(1, 20, 200).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO inventory").
			WithArgs(1, 20, 200, 1).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectExec("INSERT INTO ledger_records").
			WithArgs(7, sqlmock.AnyArg(), 2, 1, 20, 200, 1, false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		mock.ExpectCommit()

		tx, err := db.Begin()
		assert.NoError(t, err)

		reference, err := service.ExecuteTradeTx(tx, pendingOffer(), swordForStaffItems())
		assert.NoError(t, err)
		assert.NotEmpty(t, reference)
		assert.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sender stock spent elsewhere fails before any mutation", func(t *testing.T) {
		mock.ExpectBegin()

		// Sender's slot drained to zero since the offer was created
		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(0, 100))
		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(2, 20).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(2, 200))

		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		_, err = service.ExecuteTradeTx(tx, pendingOffer(), swordForStaffItems())
		assert.Error(t, err)
		var validationErr *TradeValidationError
		assert.ErrorAs(t, err, &validationErr)
		assert.Contains(t, err.Error(), "User alice does not have enough Sword Red.")
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("receiver without inventory slot fails settlement", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(3, 100))
		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(2, 20).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		_, err = service.ExecuteTradeTx(tx, pendingOffer(), swordForStaffItems())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "User bob does not have enough Staff Blue.")
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("variant mismatch on the held slot fails settlement", func(t *testing.T) {
		mock.ExpectBegin()

		// Sender's sword slot now holds a different variant
		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(3, 101))
		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(2, 20).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(2, 200))

		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		_, err = service.ExecuteTradeTx(tx, pendingOffer(), swordForStaffItems())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "User alice does not have enough Sword Red.")
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit adds to an existing recipient slot", func(t *testing.T) {
		items := []models.TradeItem{
			{ID: 1, OfferID: 7, WeaponID: 10, VariantID: intPtr(100), Quantity: 2, IsOfferedBySender: true, WeaponType: models.WeaponSword, VariantName: "Red"},
		}

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(3, 100))

		mock.ExpectExec("UPDATE inventory SET quantity = quantity - \\$1").
			WithArgs(2, 1, 10, 100).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id FROM inventory").
			WithArgs(2, 10, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(55))
		mock.ExpectExec("UPDATE inventory SET quantity = quantity \\+ \\$1 WHERE id = \\$2").
			WithArgs(2, 55).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_records").
			WithArgs(7, sqlmock.AnyArg(), 1, 2, 10, 100, 2, false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(3, 1))

		mock.ExpectCommit()

		tx, err := db.Begin()
		assert.NoError(t, err)

		_, err = service.ExecuteTradeTx(tx, pendingOffer(), items)
		assert.NoError(t, err)
		assert.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guarded debit catches a cumulative overdraw", func(t *testing.T) {
		// Two lines draw on the same slot; the second one exceeds what is
		// left even though each passed the per-line check.
		items := []models.TradeItem{
			{ID: 1, OfferID: 7, WeaponID: 10, VariantID: intPtr(100), Quantity: 3, IsOfferedBySender: true, WeaponType: models.WeaponSword, VariantName: "Red"},
			{ID: 2, OfferID: 7, WeaponID: 10, VariantID: intPtr(100), Quantity: 2, IsOfferedBySender: true, WeaponType: models.WeaponSword, VariantName: "Red"},
		}

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT quantity, variant_id FROM inventory WHERE user_id = \\$1 AND weapon_id = \\$2 FOR UPDATE").
			WithArgs(1, 10).
			WillReturnRows(sqlmock.NewRows([]string{"quantity", "variant_id"}).AddRow(4, 100))

		// First line settles
		mock.ExpectExec("UPDATE inventory SET quantity = quantity - \\$1").
			WithArgs(3, 1, 10, 100).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id FROM inventory").
			WithArgs(2, 10, 100).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO inventory").
			WithArgs(2, 10, 100, 3).
			WillReturnResult(sqlmock.NewResult(4, 1))
		mock.ExpectExec("INSERT INTO ledger_records").
			WithArgs(7, sqlmock.AnyArg(), 1, 2, 10, 100, 3, false, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(4, 1))

		// Second line trips the quantity guard
		mock.ExpectExec("UPDATE inventory SET quantity = quantity - \\$1").
			WithArgs(2, 1, 10, 100).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		_, err = service.ExecuteTradeTx(tx, pendingOffer(), items)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "does not have enough")
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
