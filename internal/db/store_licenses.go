package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/veridesk/veridesk/internal/models"
)

const licenseColumns = `id, appid, countid, dba, zip, status, license_type, monthly_fee,
	activate_date, coming_expired, email_license, source_app_id, last_synced_at,
	created_at, updated_at`

// CreateLicense persists a new license record.
func (db *DB) CreateLicense(ctx context.Context, lic *models.License) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (id, appid, countid, dba, zip, status, license_type, monthly_fee,
			activate_date, coming_expired, email_license, source_app_id, last_synced_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, lic.ID, lic.AppID, lic.CountID, lic.DBA, lic.Zip, int(lic.Status), lic.LicenseType,
		lic.MonthlyFee, lic.ActivateDate, lic.ComingExpired, lic.EmailLicense,
		lic.SourceAppID, lic.LastSyncedAt, lic.CreatedAt, lic.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// GetLicenseByID returns a license by its local ID. Returns nil if not found.
func (db *DB) GetLicenseByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id)
	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

// FindLicenseByAppID returns the license linked to the given remote appid.
// When duplicates exist the most recently synced row is returned.
func (db *DB) FindLicenseByAppID(ctx context.Context, appID string) (*models.License, error) {
	if appID == "" {
		return nil, nil
	}
	row := db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+` FROM licenses
		WHERE source_app_id = $1
		ORDER BY last_synced_at DESC NULLS LAST, id
		LIMIT 1
	`, appID)
	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find license by appid: %w", err)
	}
	return lic, nil
}

// FindLicenseByEmail returns the license with the given license email.
func (db *DB) FindLicenseByEmail(ctx context.Context, email string) (*models.License, error) {
	if email == "" {
		return nil, nil
	}
	row := db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+` FROM licenses
		WHERE LOWER(email_license) = LOWER($1)
		ORDER BY last_synced_at DESC NULLS LAST, id
		LIMIT 1
	`, email)
	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find license by email: %w", err)
	}
	return lic, nil
}

// FindLicenseByCountID returns the license with the given countid.
func (db *DB) FindLicenseByCountID(ctx context.Context, countID int) (*models.License, error) {
	if countID == 0 {
		return nil, nil
	}
	row := db.Pool.QueryRow(ctx, `
		SELECT `+licenseColumns+` FROM licenses
		WHERE countid = $1
		ORDER BY last_synced_at DESC NULLS LAST, id
		LIMIT 1
	`, countID)
	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find license by countid: %w", err)
	}
	return lic, nil
}

// UpdateLicenseFields applies a partial update. Only non-nil fields in
// changes are written; updated_at is always refreshed. Returns the updated
// record, or nil if the license no longer exists.
func (db *DB) UpdateLicenseFields(ctx context.Context, id uuid.UUID, changes models.LicenseChanges) (*models.License, error) {
	sets := []string{"updated_at = $2"}
	args := []any{id, time.Now()}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if changes.AppID != nil {
		add("appid", *changes.AppID)
	}
	if changes.CountID != nil {
		add("countid", *changes.CountID)
	}
	if changes.DBA != nil {
		add("dba", *changes.DBA)
	}
	if changes.Zip != nil {
		add("zip", *changes.Zip)
	}
	if changes.Status != nil {
		add("status", int(*changes.Status))
	}
	if changes.LicenseType != nil {
		add("license_type", *changes.LicenseType)
	}
	if changes.MonthlyFee != nil {
		add("monthly_fee", *changes.MonthlyFee)
	}
	if changes.ActivateDate != nil {
		add("activate_date", *changes.ActivateDate)
	}
	if changes.ComingExpired != nil {
		add("coming_expired", *changes.ComingExpired)
	}
	if changes.EmailLicense != nil {
		add("email_license", *changes.EmailLicense)
	}
	if changes.SourceAppID != nil {
		add("source_app_id", *changes.SourceAppID)
	}
	if changes.LastSyncedAt != nil {
		add("last_synced_at", *changes.LastSyncedAt)
	}

	query := `UPDATE licenses SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + licenseColumns

	row := db.Pool.QueryRow(ctx, query, args...)
	lic, err := scanLicense(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("update license: %w", err)
	}
	return lic, nil
}

// DeleteLicense removes a license row. Returns false if it did not exist.
func (db *DB) DeleteLicense(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM licenses WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete license: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountLicenses returns the total number of license rows.
func (db *DB) CountLicenses(ctx context.Context) (int, error) {
	var count int
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM licenses`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count licenses: %w", err)
	}
	return count, nil
}

// GetAllLicenses returns every license row, ordered by id. Used by the
// comprehensive duplicate scan.
func (db *DB) GetAllLicenses(ctx context.Context) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+licenseColumns+` FROM licenses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list all licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	return licenses, rows.Err()
}

// sortColumns maps filter sort keys to SQL columns.
var sortColumns = map[string]string{
	"dba":            "dba",
	"monthly_fee":    "monthly_fee",
	"activate_date":  "activate_date",
	"last_synced_at": "last_synced_at",
	"created_at":     "created_at",
}

// ListLicenses returns a filtered, paginated page of licenses plus the total
// number of rows matching the filter.
func (db *DB) ListLicenses(ctx context.Context, filter models.LicenseFilter) ([]*models.License, int, error) {
	var conds []string
	var args []any

	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		p := fmt.Sprintf("$%d", len(args))
		conds = append(conds, fmt.Sprintf(
			"(LOWER(dba) LIKE %s OR LOWER(appid) LIKE %s OR LOWER(email_license) LIKE %s)", p, p, p))
	}
	if filter.Status != nil {
		args = append(args, int(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.LicenseType != "" {
		args = append(args, filter.LicenseType)
		conds = append(conds, fmt.Sprintf("license_type = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM licenses`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count licenses: %w", err)
	}

	orderCol, ok := sortColumns[filter.SortBy]
	if !ok {
		orderCol = "dba"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	args = append(args, limit)
	limitParam := len(args)
	args = append(args, filter.Offset)
	offsetParam := len(args)

	query := fmt.Sprintf(`SELECT %s FROM licenses%s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		licenseColumns, where, orderCol, direction, limitParam, offsetParam)

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, lic)
	}
	return licenses, total, rows.Err()
}

// rowScanner abstracts pgx.Row and pgx.Rows for scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*models.License, error) {
	var lic models.License
	var status int
	err := row.Scan(
		&lic.ID, &lic.AppID, &lic.CountID, &lic.DBA, &lic.Zip, &status,
		&lic.LicenseType, &lic.MonthlyFee, &lic.ActivateDate, &lic.ComingExpired,
		&lic.EmailLicense, &lic.SourceAppID, &lic.LastSyncedAt,
		&lic.CreatedAt, &lic.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lic.Status = models.LicenseStatus(status)
	return &lic, nil
}
