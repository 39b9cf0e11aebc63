package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

var eventCols = []string{
	"id", "account_id", "type", "resource_type", "resource_id", "message", "metadata", "created_at",
}

func newEventRepo(t *testing.T) (*EventRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEventRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// CreateEvent
// ---------------------------------------------------------------------------

func TestCreateEvent_Success(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectExec("INSERT INTO events").
		WithArgs("ev-1", "acct-1", models.EventInstanceRunning, "instance", "i-1", "running",
			[]byte(`{"ip":"10.0.1.2"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ev := &models.Event{
		ID: "ev-1", AccountID: "acct-1", Type: models.EventInstanceRunning,
		ResourceType: "instance", ResourceID: "i-1", Message: "running",
		Metadata:  map[string]interface{}{"ip": "10.0.1.2"},
		CreatedAt: time.Now(),
	}
	if err := repo.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateEvent_DBError(t *testing.T) {
	repo, mock := newEventRepo(t)
	dbErr := errors.New("insert failed")
	mock.ExpectExec("INSERT INTO events").WillReturnError(dbErr)

	if err := repo.CreateEvent(context.Background(), &models.Event{ID: "ev-1"}); !errors.Is(err, dbErr) {
		t.Errorf("CreateEvent() error = %v, want %v", err, dbErr)
	}
}

// ---------------------------------------------------------------------------
// ListRecentEvents
// ---------------------------------------------------------------------------

func TestListRecentEvents(t *testing.T) {
	repo, mock := newEventRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT .* FROM events").
		WithArgs("acct-1", 2).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("ev-2", "acct-1", models.EventVPCDeleted, "vpc", "vpc-1", "", nil, now).
			AddRow("ev-1", "acct-1", models.EventVPCCreated, "vpc", "vpc-1", "", []byte(`{"cidr":"10.0.0.0/16"}`), now.Add(-time.Minute)))

	got, err := repo.ListRecentEvents(context.Background(), "acct-1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "ev-2" {
		t.Errorf("got[0].ID = %q, want ev-2", got[0].ID)
	}
	if got[1].Metadata["cidr"] != "10.0.0.0/16" {
		t.Errorf("got[1].Metadata = %v, want cidr 10.0.0.0/16", got[1].Metadata)
	}
}

func TestListRecentEvents_BadMetadata(t *testing.T) {
	repo, mock := newEventRepo(t)
	mock.ExpectQuery("SELECT .* FROM events").
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow("ev-1", "acct-1", "t", "r", "id", "", []byte(`{not json`), time.Now()))

	if _, err := repo.ListRecentEvents(context.Background(), "acct-1", 10); err == nil {
		t.Error("ListRecentEvents() error = nil, want decode error")
	}
}
