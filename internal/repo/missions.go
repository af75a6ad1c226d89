package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"streetrun/internal/domain"
)

const missionColumns = `id,name,description,duration_seconds,reward_credits,reward_street_cred,reward_items_json,visible`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (domain.MissionDefinition, error) {
	var m domain.MissionDefinition
	var items string
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.DurationSeconds, &m.Rewards.Credits, &m.Rewards.StreetCred, &items, &m.Visible)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if items != "" && items != "[]" {
		if err := json.Unmarshal([]byte(items), &m.Rewards.Items); err != nil {
			return m, fmt.Errorf("decode reward items for mission %d: %w", m.ID, err)
		}
	}
	return m, nil
}

func (r Repo) GetMission(ctx context.Context, tx *sql.Tx, id int64) (domain.MissionDefinition, error) {
	return scanMission(r.on(tx).QueryRowContext(ctx, r.rebind(`SELECT `+missionColumns+` FROM missions WHERE id=?`), id))
}

// ListMissions returns the catalog ordered by id. Hidden missions are
// included only when includeHidden is set.
func (r Repo) ListMissions(ctx context.Context, includeHidden bool) ([]domain.MissionDefinition, error) {
	query := `SELECT ` + missionColumns + ` FROM missions`
	var args []any
	if !includeHidden {
		query += ` WHERE visible=?`
		args = append(args, true)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MissionDefinition
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const missionUpsertClause = `ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, duration_seconds=excluded.duration_seconds,
reward_credits=excluded.reward_credits, reward_street_cred=excluded.reward_street_cred, reward_items_json=excluded.reward_items_json, visible=excluded.visible`

// UpsertMission writes m, replacing every column of an existing row.
func (r Repo) UpsertMission(ctx context.Context, tx *sql.Tx, m domain.MissionDefinition) error {
	_, err := r.insertMission(ctx, tx, m, missionUpsertClause)
	return err
}

// InsertMissionIfMissing writes m only when no row has its id, leaving
// operator changes to existing rows alone. It reports whether a row was added.
func (r Repo) InsertMissionIfMissing(ctx context.Context, tx *sql.Tx, m domain.MissionDefinition) (bool, error) {
	res, err := r.insertMission(ctx, tx, m, `ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r Repo) insertMission(ctx context.Context, tx *sql.Tx, m domain.MissionDefinition, onConflict string) (sql.Result, error) {
	items := "[]"
	if len(m.Rewards.Items) > 0 {
		b, err := json.Marshal(m.Rewards.Items)
		if err != nil {
			return nil, fmt.Errorf("encode reward items: %w", err)
		}
		items = string(b)
	}
	return r.on(tx).ExecContext(ctx, r.rebind(`INSERT INTO missions(`+missionColumns+`) VALUES (?,?,?,?,?,?,?,?)
`+onConflict),
		m.ID, m.Name, m.Description, m.DurationSeconds, m.Rewards.Credits, m.Rewards.StreetCred, items, m.Visible)
}

func (r Repo) SetMissionVisible(ctx context.Context, tx *sql.Tx, id int64, visible bool) error {
	res, err := r.on(tx).ExecContext(ctx, r.rebind(`UPDATE missions SET visible=? WHERE id=?`), visible, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}
