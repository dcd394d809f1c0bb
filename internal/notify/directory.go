package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type directoryDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGDirectory stores patient contact details in Postgres. Contacts are
// captured at booking time, so a patient may have none yet; GetContact
// reports that as a nil contact rather than an error.
type PGDirectory struct {
	db directoryDB
}

// NewPGDirectory creates a contact directory backed by a pgx pool.
func NewPGDirectory(db directoryDB) *PGDirectory {
	if db == nil {
		panic("notify: db required")
	}
	return &PGDirectory{db: db}
}

// GetContact returns the stored contact for a patient, or nil if none exists.
func (d *PGDirectory) GetContact(ctx context.Context, patientID uuid.UUID) (*Contact, error) {
	var c Contact
	err := d.db.QueryRow(ctx,
		`SELECT email, full_name FROM patients WHERE id = $1`,
		patientID).Scan(&c.Email, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("notify: get contact: %w", err)
	}
	return &c, nil
}

// UpsertContact records or refreshes a patient's contact details.
func (d *PGDirectory) UpsertContact(ctx context.Context, patientID uuid.UUID, c Contact) error {
	if c.Email == "" {
		return fmt.Errorf("notify: upsert contact: email required")
	}
	now := time.Now().UTC()
	_, err := d.db.Exec(ctx, `
		INSERT INTO patients (id, email, full_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, full_name = EXCLUDED.full_name, updated_at = EXCLUDED.updated_at`,
		patientID, c.Email, c.Name, now)
	if err != nil {
		return fmt.Errorf("notify: upsert contact: %w", err)
	}
	return nil
}
