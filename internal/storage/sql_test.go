package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/locushq/locus/pkg/models"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	s := &SQLStore{postgres: true}
	got := s.rebind(`SELECT * FROM plans WHERE id = ? AND user_id = ?`)
	want := `SELECT * FROM plans WHERE id = $1 AND user_id = $2`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}

	s.postgres = false
	q := `SELECT 1 WHERE a = ?`
	if s.rebind(q) != q {
		t.Fatal("sqlite queries must pass through unchanged")
	}
}

func TestSQLStoreInsertUsageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &SQLStore{db: db}

	mock.ExpectExec("INSERT INTO usage_records").WillReturnError(errors.New("disk full"))

	err = s.InsertUsage(context.Background(), &models.UsageRecord{UserID: "u1", Provider: "anthropic"})
	if err == nil || !strings.Contains(err.Error(), "insert usage") {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreGetPlanNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &SQLStore{db: db}

	mock.ExpectQuery("SELECT .* FROM plans").WillReturnRows(sqlmock.NewRows(strings.Split(planColumns, ", ")))

	_, err = s.GetPlan(context.Background(), "u1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLStorePruneApprovalsCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &SQLStore{db: db}

	mock.ExpectExec("DELETE FROM approvals").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PruneApprovals(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("PruneApprovals: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pruned rows, got %d", n)
	}
}
