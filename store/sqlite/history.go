package sqlite

import (
	"context"
	"fmt"

	"github.com/zenithlabs/authcore/history"
)

var _ history.Store = (*Store)(nil)

// Append adds entry and trims userID's history to the newest limit rows.
func (s *Store) Append(ctx context.Context, userID string, entry history.Entry, limit int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO password_history(user_id, password_hash, created_at) VALUES(?,?,?)
    `, userID, entry.Hash, formatTime(entry.CreatedAt)); err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}

	if limit > 0 {
		if _, err := tx.ExecContext(ctx, `
            DELETE FROM password_history
            WHERE user_id = ? AND id NOT IN (
                SELECT id FROM password_history WHERE user_id = ? ORDER BY id DESC LIMIT ?
            )
        `, userID, userID, limit); err != nil {
			return fmt.Errorf("trim password history: %w", err)
		}
	}

	return tx.Commit()
}

// List returns userID's history, newest first.
func (s *Store) List(ctx context.Context, userID string) ([]history.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT password_hash, created_at FROM password_history
        WHERE user_id = ? ORDER BY id DESC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Entry
	for rows.Next() {
		var (
			e  history.Entry
			ts string
		)
		if err := rows.Scan(&e.Hash, &ts); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
