package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

func TestTenantConfigRepositorySaveWritesRevision(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTenantConfigRepository(db)

	cfg := &entity.TenantConfig{TenantID: "tenant-1", Values: map[string]string{"payment.retry.days": "1,1,1"}, Revision: 3, UpdatedAt: ledgerEpoch}
	rev := &entity.ConfigRevision{Revision: 3, TenantID: "tenant-1", Action: entity.ConfigUploaded, NewValues: cfg.Values, Operator: "ops", CreatedAt: ledgerEpoch}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenant_configs")).
		WithArgs("tenant-1", `{"payment.retry.days":"1,1,1"}`, int64(3), ledgerEpoch).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tenant_config_revisions")).
		WithArgs(int64(3), "tenant-1", "upload", nil, `{"payment.retry.days":"1,1,1"}`, "ops", ledgerEpoch).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	if err := repo.Save(context.Background(), cfg, rev); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rev.ID != 11 {
		t.Fatalf("expected revision id 11, got %d", rev.ID)
	}
	expectationsMet(t, mock)
}

func TestTenantConfigRepositoryListAndLatestRevision(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTenantConfigRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tenant_configs")).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "values_json", "revision", "updated_at"}).
			AddRow("tenant-1", `{"payment.retry.days":"1,1,1"}`, 3, ledgerEpoch))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(revision), 0) FROM tenant_config_revisions")).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(4))

	items, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(items) != 1 || items[0].Values["payment.retry.days"] != "1,1,1" {
		t.Fatalf("unexpected configs: %+v", items)
	}

	latest, err := repo.LatestRevision(context.Background())
	if err != nil || latest != 4 {
		t.Fatalf("expected latest revision 4, got %d err=%v", latest, err)
	}
	expectationsMet(t, mock)
}

func TestTenantConfigRepositoryHistory(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTenantConfigRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tenant_config_revisions")).
		WithArgs("tenant-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "revision", "tenant_id", "action", "old_values_json", "new_values_json", "operator", "created_at"}).
			AddRow(2, 4, "tenant-1", "delete", `{"payment.retry.days":"1,1,1"}`, nil, "ops", ledgerEpoch).
			AddRow(1, 3, "tenant-1", "upload", nil, `{"payment.retry.days":"1,1,1"}`, "ops", ledgerEpoch))

	items, err := repo.History(context.Background(), "tenant-1", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(items) != 2 || items[0].Action != entity.ConfigDeleted || items[0].NewValues != nil || items[1].OldValues != nil {
		t.Fatalf("unexpected history: %+v", items)
	}
	expectationsMet(t, mock)
}
