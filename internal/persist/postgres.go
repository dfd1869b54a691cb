package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"dishwatch/internal/monitor"
)

// PostgresSnapshotter mirrors the user table into the monitored_users table.
type PostgresSnapshotter struct {
	db *sqlx.DB
}

// NewPostgresSnapshotter constructs a snapshotter backed by sqlx.
func NewPostgresSnapshotter(db *sqlx.DB) *PostgresSnapshotter {
	return &PostgresSnapshotter{db: db}
}

type userRow struct {
	UserID       string         `db:"user_id"`
	ProjectID    string         `db:"project_id"`
	DeviceIDs    pq.StringArray `db:"device_ids"`
	Email        string         `db:"email"`
	AccessToken  string         `db:"access_token"`
	RefreshToken string         `db:"refresh_token"`
	TokenType    string         `db:"token_type"`
	ExpiresIn    int64          `db:"expires_in"`
	IssuedAt     sql.NullTime   `db:"issued_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const selectUsers = `
SELECT user_id, project_id, device_ids, email, access_token, refresh_token,
       token_type, expires_in, issued_at, created_at, updated_at
FROM monitored_users`

const upsertUser = `
INSERT INTO monitored_users (
    user_id, project_id, device_ids, email, access_token, refresh_token,
    token_type, expires_in, issued_at, created_at, updated_at
) VALUES (
    :user_id, :project_id, :device_ids, :email, :access_token, :refresh_token,
    :token_type, :expires_in, :issued_at, :created_at, :updated_at
)
ON CONFLICT (user_id) DO UPDATE SET
    project_id    = EXCLUDED.project_id,
    device_ids    = EXCLUDED.device_ids,
    email         = EXCLUDED.email,
    access_token  = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    token_type    = EXCLUDED.token_type,
    expires_in    = EXCLUDED.expires_in,
    issued_at     = EXCLUDED.issued_at,
    updated_at    = EXCLUDED.updated_at`

// Load reads every row.
func (p *PostgresSnapshotter) Load(ctx context.Context) (map[string]monitor.UserRecord, error) {
	var rows []userRow
	if err := p.db.SelectContext(ctx, &rows, selectUsers); err != nil {
		return nil, fmt.Errorf("select monitored users: %w", err)
	}

	users := make(map[string]monitor.UserRecord, len(rows))
	for _, row := range rows {
		users[row.UserID] = row.toRecord()
	}
	return users, nil
}

// Save upserts every record and deletes rows for users no longer present, in one transaction.
func (p *PostgresSnapshotter) Save(ctx context.Context, users map[string]monitor.UserRecord) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(users))
	for id, rec := range users {
		rec.ID = id
		if _, err := tx.NamedExecContext(ctx, upsertUser, rowFromRecord(rec)); err != nil {
			return fmt.Errorf("upsert user %s: %w", id, err)
		}
		ids = append(ids, id)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM monitored_users WHERE NOT (user_id = ANY($1))`, pq.Array(ids)); err != nil {
		return fmt.Errorf("prune removed users: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

func rowFromRecord(rec monitor.UserRecord) userRow {
	row := userRow{
		UserID:       rec.ID,
		ProjectID:    rec.ProjectID,
		DeviceIDs:    pq.StringArray(rec.DeviceIDs),
		Email:        rec.Email,
		AccessToken:  rec.Credential.AccessToken,
		RefreshToken: rec.Credential.RefreshToken,
		TokenType:    rec.Credential.TokenType,
		ExpiresIn:    rec.Credential.ExpiresIn,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if row.DeviceIDs == nil {
		row.DeviceIDs = pq.StringArray{}
	}
	if !rec.Credential.IssuedAt.IsZero() {
		row.IssuedAt = sql.NullTime{Time: rec.Credential.IssuedAt, Valid: true}
	}
	now := time.Now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}
	return row
}

func (r userRow) toRecord() monitor.UserRecord {
	rec := monitor.UserRecord{
		ID:        r.UserID,
		ProjectID: r.ProjectID,
		DeviceIDs: []string(r.DeviceIDs),
		Email:     r.Email,
		Credential: monitor.Credential{
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
			TokenType:    r.TokenType,
			ExpiresIn:    r.ExpiresIn,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.IssuedAt.Valid {
		rec.Credential.IssuedAt = r.IssuedAt.Time
	}
	return rec
}
