package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"streetrun/internal/domain"
)

// ErrAlreadyActive is returned when the ledger already holds a row for the character.
var ErrAlreadyActive = errors.New("active mission exists")

func (r Repo) GetActiveMission(ctx context.Context, tx *sql.Tx, characterID string) (domain.ActiveMission, error) {
	var am domain.ActiveMission
	var started, ends string
	err := r.on(tx).QueryRowContext(ctx, r.rebind(`SELECT character_id,mission_id,started_at,ends_at FROM active_missions WHERE character_id=?`), characterID).
		Scan(&am.CharacterID, &am.MissionID, &started, &ends)
	if err == sql.ErrNoRows {
		return am, ErrNotFound
	}
	if err != nil {
		return am, err
	}
	if am.StartedAt, err = domain.ParseTime(started); err != nil {
		return am, fmt.Errorf("active mission started_at: %w", err)
	}
	if am.EndsAt, err = domain.ParseTime(ends); err != nil {
		return am, fmt.Errorf("active mission ends_at: %w", err)
	}
	am.StoredEndsAt = ends
	return am, nil
}

// InsertActiveMission relies on the character_id key to reject a second row.
func (r Repo) InsertActiveMission(ctx context.Context, tx *sql.Tx, am domain.ActiveMission) error {
	_, err := r.on(tx).ExecContext(ctx, r.rebind(`INSERT INTO active_missions(character_id,mission_id,started_at,ends_at) VALUES (?,?,?,?)`),
		am.CharacterID, am.MissionID, domain.FormatTime(am.StartedAt), domain.FormatTime(am.EndsAt))
	if err != nil && IsUniqueViolation(err) {
		return ErrAlreadyActive
	}
	return err
}

// DeleteActiveMission removes exactly the row that was read, matching ends_at
// on its stored text. ErrNotFound means it was already consumed by a
// concurrent settlement.
func (r Repo) DeleteActiveMission(ctx context.Context, tx *sql.Tx, am domain.ActiveMission) error {
	ends := am.StoredEndsAt
	if ends == "" {
		ends = domain.FormatTime(am.EndsAt)
	}
	res, err := r.on(tx).ExecContext(ctx, r.rebind(`DELETE FROM active_missions WHERE character_id=? AND mission_id=? AND ends_at=?`),
		am.CharacterID, am.MissionID, ends)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r Repo) CountActiveMissions(ctx context.Context, characterID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM active_missions WHERE character_id=?`), characterID).Scan(&n)
	return n, err
}
