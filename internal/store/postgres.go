package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1
			AND verification_token <> ''
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.is_email_verified
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) ListNotes(ctx context.Context, ownerID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, content, is_editable, created_at, updated_at
		FROM notes
		WHERE owner_id=$1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		var item Note
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Title, &item.Content, &item.IsEditable, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	var item Note
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, content, is_editable, created_at, updated_at
		FROM notes
		WHERE id=$1
	`, noteID).Scan(&item.ID, &item.OwnerID, &item.Title, &item.Content, &item.IsEditable, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Note{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, owner_id, title, content, is_editable)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.OwnerID, item.Title, item.Content, item.IsEditable)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// UpdateNoteFields writes only the provided fields, scoped to the owner so a
// stale session can never touch someone else's record.
func (s *PostgresStore) UpdateNoteFields(ctx context.Context, noteID, ownerID string, fields NoteFields) error {
	set := ""
	args := []any{noteID, ownerID}
	argN := 3
	if fields.Title != nil {
		set += fmt.Sprintf(", title=$%d", argN)
		args = append(args, *fields.Title)
		argN++
	}
	if fields.Content != nil {
		set += fmt.Sprintf(", content=$%d", argN)
		args = append(args, *fields.Content)
		argN++
	}
	if fields.IsEditable != nil {
		set += fmt.Sprintf(", is_editable=$%d", argN)
		args = append(args, *fields.IsEditable)
		argN++
	}
	if set == "" {
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE notes SET updated_at=NOW()`+set+`
		WHERE id=$1 AND owner_id=$2
	`, args...)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update note rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID, ownerID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1 AND owner_id=$2`, noteID, ownerID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete note rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
