package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

type TenantConfigRepository struct {
	db TxDB
}

func NewTenantConfigRepository(db TxDB) *TenantConfigRepository {
	return &TenantConfigRepository{db: db}
}

func (r *TenantConfigRepository) List(ctx context.Context) ([]*entity.TenantConfig, error) {
	query := `
		SELECT tenant_id, values_json, revision, updated_at
		FROM tenant_configs
		ORDER BY tenant_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.TenantConfig, 0)
	for rows.Next() {
		var (
			item   entity.TenantConfig
			values string
		)
		if err := rows.Scan(&item.TenantID, &values, &item.Revision, &item.UpdatedAt); err != nil {
			return nil, err
		}
		if item.Values, err = parseValues(values); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Save upserts the tenant entry and appends its audit revision in one transaction.
func (r *TenantConfigRepository) Save(ctx context.Context, cfg *entity.TenantConfig, revision *entity.ConfigRevision) error {
	values, err := serializeValues(cfg.Values)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tenant_configs (tenant_id, values_json, revision, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE values_json = VALUES(values_json), revision = VALUES(revision), updated_at = VALUES(updated_at)
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, cfg.TenantID, values, cfg.Revision, cfg.UpdatedAt); err != nil {
			return err
		}
		return insertRevision(ctx, tx, revision)
	})
}

func (r *TenantConfigRepository) Delete(ctx context.Context, tenantID string, revision *entity.ConfigRevision) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_configs WHERE tenant_id = ?`, tenantID); err != nil {
			return err
		}
		return insertRevision(ctx, tx, revision)
	})
}

func (r *TenantConfigRepository) History(ctx context.Context, tenantID string, limit int) ([]*entity.ConfigRevision, error) {
	query := `
		SELECT id, revision, tenant_id, action, old_values_json, new_values_json, operator, created_at
		FROM tenant_config_revisions
		WHERE tenant_id = ?
		ORDER BY revision DESC
	`
	args := []interface{}{tenantID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.ConfigRevision, 0)
	for rows.Next() {
		var (
			item      entity.ConfigRevision
			action    string
			oldValues sql.NullString
			newValues sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Revision, &item.TenantID, &action, &oldValues, &newValues, &item.Operator, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Action = entity.ConfigAction(action)
		if oldValues.Valid {
			if item.OldValues, err = parseValues(oldValues.String); err != nil {
				return nil, err
			}
		}
		if newValues.Valid {
			if item.NewValues, err = parseValues(newValues.String); err != nil {
				return nil, err
			}
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (r *TenantConfigRepository) LatestRevision(ctx context.Context) (int64, error) {
	var revision int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision), 0) FROM tenant_config_revisions`).Scan(&revision)
	return revision, err
}

func (r *TenantConfigRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		rollback(tx)
		return err
	}
	return tx.Commit()
}

func insertRevision(ctx context.Context, db DBTX, revision *entity.ConfigRevision) error {
	var oldValues, newValues interface{}
	if revision.OldValues != nil {
		raw, err := serializeValues(revision.OldValues)
		if err != nil {
			return err
		}
		oldValues = raw
	}
	if revision.NewValues != nil {
		raw, err := serializeValues(revision.NewValues)
		if err != nil {
			return err
		}
		newValues = raw
	}

	query := `
		INSERT INTO tenant_config_revisions (revision, tenant_id, action, old_values_json, new_values_json, operator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := db.ExecContext(ctx, query,
		revision.Revision,
		revision.TenantID,
		string(revision.Action),
		oldValues,
		newValues,
		revision.Operator,
		revision.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	revision.ID = uint64(id)
	return nil
}
