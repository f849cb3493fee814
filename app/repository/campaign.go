package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

const campaignColumns = `
	payment_id, tenant_id, account_id, invoice_id, amount, currency, provider,
	customer_ref, payment_method_ref, state, attempt_index, next_due_at, last_failure_at, last_failure_kind, policy_version,
	cancel_reason, created_at, updated_at
`

// CampaignRepository is the MySQL ledger. Every mutation is a conditional single-row
// update, so two writers on the same campaign cannot both win.
type CampaignRepository struct {
	db TxDB
}

func NewCampaignRepository(db TxDB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) Create(ctx context.Context, campaign *entity.Campaign) error {
	query := `
		INSERT INTO retry_campaigns (` + campaignColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		campaign.PaymentID,
		campaign.TenantID,
		campaign.AccountID,
		nullableString(campaign.InvoiceID),
		campaign.Amount,
		campaign.Currency,
		campaign.Provider,
		nullableString(campaign.CustomerRef),
		nullableString(campaign.PaymentMethodRef),
		string(campaign.State),
		campaign.AttemptIndex,
		nullableTimeValue(campaign.NextDueAt),
		nullableTimeValue(campaign.LastFailureAt),
		nullableString(string(campaign.LastFailureKind)),
		campaign.PolicyVersion,
		nullableString(campaign.CancelReason),
		campaign.CreatedAt,
		campaign.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrCampaignAlreadyExists
		}
		return err
	}
	return nil
}

func (r *CampaignRepository) Get(ctx context.Context, paymentID string) (*entity.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM retry_campaigns WHERE payment_id = ?`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, paymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attempts, err := r.listAttempts(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	campaign.Attempts = attempts
	return campaign, nil
}

func (r *CampaignRepository) RecordFailure(ctx context.Context, paymentID string, rec FailureRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}

	state := entity.CampaignActive
	if rec.NextDueAt == nil {
		state = entity.CampaignExhausted
	}

	query := `
		UPDATE retry_campaigns SET
			state = ?,
			attempt_index = ?,
			next_due_at = ?,
			last_failure_at = ?,
			last_failure_kind = ?,
			policy_version = ?,
			updated_at = ?
		WHERE payment_id = ? AND state = 'active' AND attempt_index = ?
			AND (last_failure_at IS NULL OR last_failure_at <= ?)
	`

	return r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			string(state),
			rec.AttemptIndex+1,
			nullableTimeValue(rec.NextDueAt),
			rec.FailedAt,
			string(rec.Kind),
			rec.PolicyVersion,
			rec.FailedAt,
			paymentID,
			rec.AttemptIndex,
			rec.FailedAt,
		)
		if err != nil {
			return err
		}
		if err := r.ensureAffected(ctx, tx, result, paymentID); err != nil {
			return err
		}

		return insertAttempt(ctx, tx, paymentID, entity.Attempt{
			Index:   rec.AttemptIndex,
			Outcome: entity.AttemptFailed,
			Kind:    rec.Kind,
			Reason:  rec.Reason,
			At:      rec.FailedAt,
		})
	})
}

func (r *CampaignRepository) Reschedule(ctx context.Context, paymentID string, rec RescheduleRecord) error {
	query := `
		UPDATE retry_campaigns SET
			next_due_at = ?,
			policy_version = ?,
			updated_at = ?
		WHERE payment_id = ? AND state = 'active' AND attempt_index = ?
			AND (last_failure_at IS NULL OR last_failure_at <= ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.NextDueAt,
		rec.PolicyVersion,
		rec.At,
		paymentID,
		rec.AttemptIndex,
		rec.NextDueAt,
	)
	if err != nil {
		return err
	}
	return r.ensureAffected(ctx, r.db, result, paymentID)
}

func (r *CampaignRepository) RecordTerminal(ctx context.Context, paymentID string, rec TerminalRecord) (bool, error) {
	if err := rec.validate(); err != nil {
		return false, err
	}

	query := `
		UPDATE retry_campaigns SET
			state = ?,
			next_due_at = NULL,
			cancel_reason = ?,
			updated_at = ?
		WHERE payment_id = ? AND state = 'active'
	`

	cancelReason := ""
	if rec.State == entity.CampaignCancelled {
		cancelReason = rec.Reason
	}

	changed := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			string(rec.State),
			nullableString(cancelReason),
			rec.At,
			paymentID,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			existing, err := r.exists(ctx, tx, paymentID)
			if err != nil {
				return err
			}
			if !existing {
				return ErrCampaignNotFound
			}
			return nil
		}

		changed = true
		if rec.Attempt == nil {
			return nil
		}
		return insertAttempt(ctx, tx, paymentID, *rec.Attempt)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (r *CampaignRepository) DueBefore(ctx context.Context, before time.Time, afterID string, limit int) ([]string, error) {
	query := `
		SELECT payment_id
		FROM retry_campaigns
		WHERE state = 'active' AND next_due_at IS NOT NULL AND next_due_at <= ? AND payment_id > ?
		ORDER BY payment_id ASC
	`
	args := []interface{}{before, afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryIDs(ctx, query, args...)
}

func (r *CampaignRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]string, error) {
	query := `
		SELECT payment_id
		FROM retry_campaigns
		WHERE account_id = ? AND state = 'active'
		ORDER BY payment_id ASC
	`
	return r.queryIDs(ctx, query, accountID)
}

func (r *CampaignRepository) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CampaignRepository) listAttempts(ctx context.Context, paymentID string) ([]entity.Attempt, error) {
	query := `
		SELECT attempt_index, outcome, failure_kind, reason, attempted_at
		FROM retry_attempts
		WHERE payment_id = ?
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]entity.Attempt, 0)
	for rows.Next() {
		var (
			attempt entity.Attempt
			outcome string
			kind    sql.NullString
			reason  sql.NullString
		)
		if err := rows.Scan(&attempt.Index, &outcome, &kind, &reason, &attempt.At); err != nil {
			return nil, err
		}
		attempt.Outcome = entity.AttemptOutcome(outcome)
		attempt.Kind = entity.FailureKind(stringFromNull(kind))
		attempt.Reason = stringFromNull(reason)
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// ensureAffected turns a zero-row conditional update into the reason it did not apply.
func (r *CampaignRepository) ensureAffected(ctx context.Context, db DBTX, result sql.Result, paymentID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var state string
	err = db.QueryRowContext(ctx, `SELECT state FROM retry_campaigns WHERE payment_id = ?`, paymentID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCampaignNotFound
	}
	if err != nil {
		return err
	}
	if entity.CampaignState(state).Terminal() {
		return ErrCampaignClosed
	}
	return ErrStaleAttempt
}

func (r *CampaignRepository) exists(ctx context.Context, db DBTX, paymentID string) (bool, error) {
	var state string
	err := db.QueryRowContext(ctx, `SELECT state FROM retry_campaigns WHERE payment_id = ?`, paymentID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *CampaignRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

func insertAttempt(ctx context.Context, db DBTX, paymentID string, attempt entity.Attempt) error {
	query := `
		INSERT INTO retry_attempts (payment_id, attempt_index, outcome, failure_kind, reason, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		paymentID,
		attempt.Index,
		string(attempt.Outcome),
		nullableString(string(attempt.Kind)),
		nullableString(truncate(attempt.Reason, 1024)),
		attempt.At,
	)
	return err
}

func scanCampaign(scanner rowScanner) (*entity.Campaign, error) {
	var (
		campaign        entity.Campaign
		invoiceID       sql.NullString
		amount          decimal.Decimal
		state           string
		nextDueAt       sql.NullTime
		lastFailureAt   sql.NullTime
		lastFailureKind sql.NullString
		cancelReason    sql.NullString
		customerRef     sql.NullString
		methodRef       sql.NullString
	)

	err := scanner.Scan(
		&campaign.PaymentID,
		&campaign.TenantID,
		&campaign.AccountID,
		&invoiceID,
		&amount,
		&campaign.Currency,
		&campaign.Provider,
		&customerRef,
		&methodRef,
		&state,
		&campaign.AttemptIndex,
		&nextDueAt,
		&lastFailureAt,
		&lastFailureKind,
		&campaign.PolicyVersion,
		&cancelReason,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	campaign.InvoiceID = stringFromNull(invoiceID)
	campaign.CustomerRef = stringFromNull(customerRef)
	campaign.PaymentMethodRef = stringFromNull(methodRef)
	campaign.Amount = amount
	campaign.State = entity.CampaignState(state)
	campaign.NextDueAt = timePtrFromNull(nextDueAt)
	campaign.LastFailureAt = timePtrFromNull(lastFailureAt)
	campaign.LastFailureKind = entity.FailureKind(stringFromNull(lastFailureKind))
	campaign.CancelReason = stringFromNull(cancelReason)
	return &campaign, nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
