package ledger

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pmexecutor/src/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func testIntent() model.OrderIntent {
	return model.OrderIntent{
		IntentID: "btc-updown-15m-1748780100-buy",
		MarketID: "btc-updown-15m-1748780100",
		TokenID:  "tok-up",
		Side:     model.SideBuy,
		Size:     decimal.NewFromInt(10),
		Price:    decimal.RequireFromString("0.5"),
	}
}

func recordRows(records ...model.OrderRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "intent_id", "market_id", "side", "status", "exchange_order_id", "reconciled", "archived"})
	for _, r := range records {
		rows.AddRow(r.ID, r.IntentID, r.MarketID, r.Side, r.Status, r.ExchangeOrderID, r.Reconciled, r.Archived)
	}
	return rows
}

func TestLedgerReserveCreatesPendingRecord(t *testing.T) {
	mockDB, mock := newMockDB(t)
	led := &Ledger{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "order_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	record, err := led.Reserve(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("unexpected error reserving intent: %v", err)
	}

	if record.Status != model.OrderStatusPending {
		t.Fatalf("fresh reservation must be pending, got %q", record.Status)
	}
	if record.IntentID != "btc-updown-15m-1748780100-buy" {
		t.Fatalf("unexpected intent id %q", record.IntentID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestLedgerReserveDuplicateReturnsExisting(t *testing.T) {
	mockDB, mock := newMockDB(t)
	led := &Ledger{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "order_records"`)).
		WillReturnError(gorm.ErrDuplicatedKey)
	mock.ExpectRollback()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_records" WHERE intent_id = `)).
		WillReturnRows(recordRows(model.OrderRecord{
			ID:       7,
			IntentID: "btc-updown-15m-1748780100-buy",
			MarketID: "btc-updown-15m-1748780100",
			Side:     model.SideBuy,
			Status:   model.OrderStatusAcknowledged,
		}))

	record, err := led.Reserve(context.Background(), testIntent())
	if !errors.Is(err, ErrAlreadyReserved) {
		t.Fatalf("expected ErrAlreadyReserved, got %v", err)
	}

	if record == nil || record.Status != model.OrderStatusAcknowledged {
		t.Fatalf("existing record must accompany the error, got %+v", record)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestLedgerGetNotFound(t *testing.T) {
	mockDB, mock := newMockDB(t)
	led := &Ledger{db: mockDB}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_records" WHERE intent_id = `)).
		WillReturnRows(recordRows())

	_, err := led.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerUpdateRejectsInvalidTransition(t *testing.T) {
	mockDB, mock := newMockDB(t)
	led := &Ledger{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_records" WHERE intent_id = `)).
		WillReturnRows(recordRows(model.OrderRecord{
			ID:       3,
			IntentID: "btc-updown-15m-1748780100-buy",
			Status:   model.OrderStatusFilled,
		}))
	mock.ExpectRollback()

	_, err := led.Update(context.Background(), "btc-updown-15m-1748780100-buy", StatusUpdate{
		Status: model.OrderStatusSubmitted,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestLedgerUpdateAppliesForwardTransition(t *testing.T) {
	mockDB, mock := newMockDB(t)
	led := &Ledger{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_records" WHERE intent_id = `)).
		WillReturnRows(recordRows(model.OrderRecord{
			ID:       3,
			IntentID: "btc-updown-15m-1748780100-buy",
			Status:   model.OrderStatusSubmitted,
		}))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "order_records" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record, err := led.Update(context.Background(), "btc-updown-15m-1748780100-buy", StatusUpdate{
		Status:          model.OrderStatusAcknowledged,
		ExchangeOrderID: "ex-9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.Status != model.OrderStatusAcknowledged {
		t.Fatalf("status not applied: %q", record.Status)
	}
	if record.ExchangeOrderID != "ex-9" {
		t.Fatalf("exchange order id not applied: %q", record.ExchangeOrderID)
	}
	if record.LastCheckedAt == nil {
		t.Fatalf("update must stamp last_checked_at")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestLedgerFindNonTerminal(t *testing.T) {
	mockDB, mock := newMockDB(t)
	led := &Ledger{db: mockDB}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_records" WHERE status IN `)).
		WillReturnRows(recordRows(
			model.OrderRecord{ID: 1, IntentID: "a", Status: model.OrderStatusSubmitted},
			model.OrderRecord{ID: 2, IntentID: "b", Status: model.OrderStatusUnknown},
		))

	records, err := led.FindNonTerminal(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestLedgerArchive(t *testing.T) {
	mockDB, mock := newMockDB(t)
	led := &Ledger{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "order_records" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := led.Archive(context.Background(), "btc-updown-15m-1748780100-buy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
