package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"designgate/internal/domain"
)

// Repo is the acknowledgement store. It is the only owner of the
// acknowledged flag; evaluators read a projection of it.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const ackColumns = `id,consideration_id,actor_id,COALESCE(note,'') AS note,acknowledged_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAck(row rowScanner) (domain.Acknowledgement, error) {
	var a domain.Acknowledgement
	err := row.Scan(&a.ID, &a.ConsiderationID, &a.ActorID, &a.Note, &a.AcknowledgedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// Acknowledge upserts the acknowledgement for a consideration. A repeated
// acknowledgement keeps the original record id.
func (r Repo) Acknowledge(ctx context.Context, tx *sql.Tx, a domain.Acknowledgement) error {
	if strings.TrimSpace(a.ConsiderationID) == "" {
		return errors.New("consideration id is required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO acknowledgements(consideration_id,id,actor_id,note,acknowledged_at) VALUES (?,?,?,?,?)
ON CONFLICT(consideration_id) DO UPDATE SET actor_id=excluded.actor_id, note=excluded.note, acknowledged_at=excluded.acknowledged_at`,
		a.ConsiderationID, a.ID, a.ActorID, nullable(a.Note), a.AcknowledgedAt)
	if err != nil {
		return fmt.Errorf("upsert acknowledgement: %w", err)
	}
	return nil
}

// Unacknowledge removes the acknowledgement for a consideration.
func (r Repo) Unacknowledge(ctx context.Context, tx *sql.Tx, considerationID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM acknowledgements WHERE consideration_id=?`, considerationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("acknowledgement %s: %w", considerationID, ErrNotFound)
	}
	return nil
}

func (r Repo) GetAcknowledgement(ctx context.Context, considerationID string) (domain.Acknowledgement, error) {
	return scanAck(r.DB.QueryRowContext(ctx, `SELECT `+ackColumns+` FROM acknowledgements WHERE consideration_id=?`, considerationID))
}

func (r Repo) GetAcknowledgementTx(ctx context.Context, tx *sql.Tx, considerationID string) (domain.Acknowledgement, error) {
	return scanAck(tx.QueryRowContext(ctx, `SELECT `+ackColumns+` FROM acknowledgements WHERE consideration_id=?`, considerationID))
}

func (r Repo) ListAcknowledgements(ctx context.Context) ([]domain.Acknowledgement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ackColumns+` FROM acknowledgements ORDER BY acknowledged_at, consideration_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Acknowledgement
	for rows.Next() {
		a, err := scanAck(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AcknowledgedSet reports which of ids are acknowledged. Ids without a
// record are absent from the map.
func (r Repo) AcknowledgedSet(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT consideration_id FROM acknowledgements WHERE consideration_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
