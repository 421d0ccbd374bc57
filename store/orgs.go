package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Org mirrors one on-chain registry row. Rows are upserted by the syncer
// and never deleted locally (soft cache).
type Org struct {
	ID                uint64    `json:"id"`
	Name              string    `json:"name"`
	Admin             string    `json:"admin"`
	OpenMembership    bool      `json:"open_membership"`
	MembersCanPropose bool      `json:"members_can_propose"`
	MetadataRef       string    `json:"metadata_ref"`
	MemberCount       uint32    `json:"member_count"`
	UpdatedAt         time.Time `json:"updated_at"`
}

const upsertOrgQuery = `
	INSERT INTO orgs (id, name, admin, open_membership, members_can_propose, metadata_ref, member_count, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		admin = excluded.admin,
		open_membership = excluded.open_membership,
		members_can_propose = excluded.members_can_propose,
		metadata_ref = excluded.metadata_ref,
		member_count = excluded.member_count,
		updated_at = excluded.updated_at`

// UpsertOrg inserts or refreshes a single organization row.
func (s *Store) UpsertOrg(ctx context.Context, org Org) error {
	_, err := s.db.ExecContext(ctx, upsertOrgQuery,
		org.ID, org.Name, org.Admin, org.OpenMembership, org.MembersCanPropose,
		org.MetadataRef, org.MemberCount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert org %d: %w", org.ID, err)
	}
	return nil
}

// UpsertOrgs refreshes a batch of organization rows in one transaction, so a
// partially applied sweep is never visible to readers.
func (s *Store) UpsertOrgs(ctx context.Context, orgs []Org) error {
	if len(orgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin org upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertOrgQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare org upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, org := range orgs {
		if _, err := stmt.ExecContext(ctx,
			org.ID, org.Name, org.Admin, org.OpenMembership, org.MembersCanPropose,
			org.MetadataRef, org.MemberCount, now); err != nil {
			return fmt.Errorf("failed to upsert org %d: %w", org.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit org upsert: %w", err)
	}
	return nil
}

// GetOrg returns one organization row, or nil if the id is unknown.
func (s *Store) GetOrg(ctx context.Context, id uint64) (*Org, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, admin, open_membership, members_can_propose, metadata_ref, member_count, updated_at
		 FROM orgs WHERE id = ?`, id)

	org, err := scanOrg(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read org %d: %w", id, err)
	}
	return org, nil
}

// ListOrgs returns every cached organization, ordered by id.
func (s *Store) ListOrgs(ctx context.Context) ([]Org, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, admin, open_membership, members_can_propose, metadata_ref, member_count, updated_at
		 FROM orgs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orgs: %w", err)
	}
	defer rows.Close()

	var orgs []Org
	for rows.Next() {
		org, err := scanOrg(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan org row: %w", err)
		}
		orgs = append(orgs, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate org rows: %w", err)
	}
	return orgs, nil
}

// OrgsCount returns the number of cached organizations.
func (s *Store) OrgsCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orgs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count orgs: %w", err)
	}
	return n, nil
}

func scanOrg(scan func(dest ...any) error) (*Org, error) {
	var (
		org       Org
		updatedAt int64
	)
	if err := scan(&org.ID, &org.Name, &org.Admin, &org.OpenMembership,
		&org.MembersCanPropose, &org.MetadataRef, &org.MemberCount, &updatedAt); err != nil {
		return nil, err
	}
	org.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &org, nil
}

// GetMeta reads one metadata value; ok reports whether the key exists.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read metadata %q: %w", key, err)
	}
	return value, true, nil
}

// SetMeta writes one metadata value, creating the key on first use.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write metadata %q: %w", key, err)
	}
	return nil
}
