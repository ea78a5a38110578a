package sharing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/audit"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/database"
)

// ErrNotFound is returned when the dataset or user disappears mid-request.
var ErrNotFound = errors.New("not found")

// Repository handles dataset_access and pending_dataset_shares persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a sharing repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// DatasetInOrg reports whether the dataset exists in orgID.
func (r *Repository) DatasetInOrg(ctx context.Context, orgID, datasetID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM datasets WHERE id = $1 AND org_id = $2)`
	var ok bool
	if err := r.db.QueryRow(ctx, q, datasetID, orgID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check dataset: %w", err)
	}
	return ok, nil
}

// FindUserByEmail returns the org member with email, or nil if none.
func (r *Repository) FindUserByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.User, error) {
	const q = `SELECT id, org_id, email, role, created_at FROM users WHERE org_id = $1 AND lower(email) = lower($2)`
	var u models.User
	err := r.db.QueryRow(ctx, q, orgID, email).Scan(&u.ID, &u.OrgID, &u.Email, &u.Role, &u.CreatedAt)
	if database.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// Grant gives userID access to the dataset, updating the role if already shared.
func (r *Repository) Grant(ctx context.Context, datasetID, userID uuid.UUID, role string) error {
	const q = `INSERT INTO dataset_access (dataset_id, user_id, access_role)
		VALUES ($1, $2, $3)
		ON CONFLICT (dataset_id, user_id) DO UPDATE SET access_role = EXCLUDED.access_role`
	if _, err := r.db.Exec(ctx, q, datasetID, userID, role); err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("grant access: %w", err)
	}
	return nil
}

// AddPending records a share for an email with no account in the org yet.
func (r *Repository) AddPending(ctx context.Context, orgID, datasetID uuid.UUID, email, role string) error {
	const q = `INSERT INTO pending_dataset_shares (dataset_id, org_id, email, access_role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_id, email) DO UPDATE SET access_role = EXCLUDED.access_role`
	if _, err := r.db.Exec(ctx, q, datasetID, orgID, email, role); err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("add pending share: %w", err)
	}
	return nil
}

// Revoke removes userID's access and reports whether a row was deleted.
func (r *Repository) Revoke(ctx context.Context, datasetID, userID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM dataset_access WHERE dataset_id = $1 AND user_id = $2`, datasetID, userID)
	if err != nil {
		return false, fmt.Errorf("revoke access: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns direct shares followed by pending ones, oldest first.
func (r *Repository) List(ctx context.Context, orgID, datasetID uuid.UUID) ([]models.DatasetShare, error) {
	const q = `SELECT da.user_id, u.email, da.access_role, da.created_at, false
		FROM dataset_access da
		INNER JOIN users u ON u.id = da.user_id AND u.org_id = $1
		WHERE da.dataset_id = $2
		UNION ALL
		SELECT NULL, ps.email, ps.access_role, ps.created_at, true
		FROM pending_dataset_shares ps
		WHERE ps.dataset_id = $2 AND ps.org_id = $1
		ORDER BY 5, 4`
	rows, err := r.db.Query(ctx, q, orgID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()
	list := []models.DatasetShare{}
	for rows.Next() {
		var s models.DatasetShare
		if err := rows.Scan(&s.UserID, &s.Email, &s.AccessRole, &s.CreatedAt, &s.Pending); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// RecordAudit writes ev.
func (r *Repository) RecordAudit(ctx context.Context, ev models.AuditEvent) error {
	return audit.Record(ctx, r.db, ev)
}
