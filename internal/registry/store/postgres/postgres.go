// Package postgres persists credentials in PostgreSQL. Assign runs inside one
// transaction with row locks, so the database enforces the same exclusivity
// the in-memory store enforces with its mutex.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"wxpass/internal/registry/models"
	"wxpass/internal/registry/service"
	"wxpass/pkg/domain"
	dErrors "wxpass/pkg/domain-errors"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const credentialColumns = `id, owner, price, validity_seconds, minted_at, issued_at, expires_at, usage_limited, uses_remaining`

func (s *Store) Insert(ctx context.Context, creds []*models.Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, c := range creds {
		_, err := tx.ExecContext(ctx, query,
			uuid.UUID(c.ID),
			nullAddress(c.Owner),
			int64(c.Price),
			int64(c.Validity.Seconds()),
			c.MintedAt,
			c.IssuedAt,
			c.ExpiresAt,
			c.UsageLimited,
			c.UsesRemaining,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return dErrors.New(dErrors.CodeConflict, "credential "+c.ID.String()+" already exists")
			}
			return fmt.Errorf("insert credential: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.CredentialID) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	cred, err := scanCredential(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

func (s *Store) ListUnowned(ctx context.Context, now time.Time, limit int, key models.SortKey) ([]*models.Credential, error) {
	order := "minted_at, id"
	switch key {
	case models.SortByPrice:
		order = "price, id"
	case models.SortByExpiry:
		order = "expires_at, id"
	}
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE owner IS NULL AND expires_at > $1
		ORDER BY ` + order + `
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list unowned credentials: %w", err)
	}
	defer rows.Close()
	return collectCredentials(rows)
}

func (s *Store) ListByOwner(ctx context.Context, owner domain.Address) ([]*models.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE owner = $1
		ORDER BY issued_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, string(owner))
	if err != nil {
		return nil, fmt.Errorf("list credentials by owner: %w", err)
	}
	defer rows.Close()
	return collectCredentials(rows)
}

func (s *Store) CountUnowned(ctx context.Context, now time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM credentials WHERE owner IS NULL AND expires_at > $1`
	if err := s.db.QueryRowContext(ctx, query, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unowned credentials: %w", err)
	}
	return count, nil
}

// Assign settles a purchase in one transaction. Inserting the payment proof
// first turns a replayed proof into a unique violation; FOR UPDATE SKIP LOCKED
// keeps concurrent buyers from selecting the same rows.
func (s *Store) Assign(ctx context.Context, p service.AssignParams) ([]*models.Credential, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin assign: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO payment_proofs (tx_id, used_at) VALUES ($1, $2)`,
		uuid.UUID(p.PaymentTxID), p.Now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, dErrors.New(dErrors.CodeConflict, "payment proof already used")
		}
		return nil, fmt.Errorf("record payment proof: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM credentials
		WHERE owner IS NULL AND expires_at > $1
		ORDER BY minted_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, p.Now, p.Quantity)
	if err != nil {
		return nil, fmt.Errorf("select unowned credentials: %w", err)
	}
	ids := make([]uuid.UUID, 0, p.Quantity)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan credential id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential ids: %w", err)
	}
	if len(ids) < p.Quantity {
		return nil, dErrors.New(dErrors.CodeSoldOut, "not enough credentials in stock")
	}

	updated, err := tx.QueryContext(ctx, `
		UPDATE credentials
		SET owner = $1,
			issued_at = $2,
			expires_at = $2 + make_interval(secs => validity_seconds)
		WHERE id = ANY($3::uuid[])
		RETURNING `+credentialColumns+`
	`, string(p.Owner), p.Now, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("assign credentials: %w", err)
	}
	defer updated.Close()

	assigned, err := collectCredentials(updated)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign: %w", err)
	}
	return assigned, nil
}

func (s *Store) DecrementUses(ctx context.Context, id domain.CredentialID) (*models.Credential, error) {
	query := `
		UPDATE credentials
		SET uses_remaining = GREATEST(uses_remaining - 1, 0)
		WHERE id = $1 AND usage_limited
		RETURNING ` + credentialColumns + `
	`
	cred, err := scanCredential(s.db.QueryRowContext(ctx, query, uuid.UUID(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.Get(ctx, id)
		}
		return nil, fmt.Errorf("decrement credential uses: %w", err)
	}
	return cred, nil
}

type credentialRow interface {
	Scan(dest ...any) error
}

func scanCredential(row credentialRow) (*models.Credential, error) {
	var (
		credID          uuid.UUID
		owner           sql.NullString
		price           int64
		validitySeconds int64
		cred            models.Credential
	)
	if err := row.Scan(
		&credID, &owner, &price, &validitySeconds,
		&cred.MintedAt, &cred.IssuedAt, &cred.ExpiresAt,
		&cred.UsageLimited, &cred.UsesRemaining,
	); err != nil {
		return nil, err
	}

	cred.ID = domain.CredentialID(credID)
	if owner.Valid {
		cred.Owner = domain.Address(owner.String)
	}
	cred.Price = uint64(price)
	cred.Validity = time.Duration(validitySeconds) * time.Second
	return &cred, nil
}

func collectCredentials(rows *sql.Rows) ([]*models.Credential, error) {
	var out []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

func nullAddress(a domain.Address) sql.NullString {
	if a.IsNil() {
		return sql.NullString{}
	}
	return sql.NullString{String: string(a), Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
