package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"streetrun/internal/domain"
)

const characterColumns = `id,owner_identity,name,currency,reputation,last_mission_started_at,created_at`

func scanCharacter(row rowScanner) (domain.Character, error) {
	var c domain.Character
	var last sql.NullString
	var created string
	err := row.Scan(&c.ID, &c.OwnerIdentity, &c.Name, &c.Currency, &c.Reputation, &last, &created)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if c.CreatedAt, err = domain.ParseTime(created); err != nil {
		return c, fmt.Errorf("character %s created_at: %w", c.ID, err)
	}
	c.StoredLastStart = last.String
	if last.Valid && last.String != "" {
		ts, err := domain.ParseTime(last.String)
		if err != nil {
			return c, fmt.Errorf("character %s last_mission_started_at: %w", c.ID, err)
		}
		c.LastMissionStartedAt = &ts
	}
	return c, nil
}

func (r Repo) InsertCharacter(ctx context.Context, tx *sql.Tx, c domain.Character) error {
	_, err := r.on(tx).ExecContext(ctx, r.rebind(`INSERT INTO characters(id,owner_identity,name,currency,reputation,created_at) VALUES (?,?,?,?,?,?)`),
		c.ID, c.OwnerIdentity, c.Name, c.Currency, c.Reputation, domain.FormatTime(c.CreatedAt))
	return err
}

// GetCharacterByOwner resolves the character linked to an authenticated identity.
func (r Repo) GetCharacterByOwner(ctx context.Context, tx *sql.Tx, owner string) (domain.Character, error) {
	return scanCharacter(r.on(tx).QueryRowContext(ctx, r.rebind(`SELECT `+characterColumns+` FROM characters WHERE owner_identity=?`), owner))
}

// MarkMissionStarted moves last_mission_started_at from the stored text prev
// to now. It is a compare-and-set on the column as read, so hand-written values
// in any accepted format still match: ErrNotFound means another start won the race.
func (r Repo) MarkMissionStarted(ctx context.Context, tx *sql.Tx, characterID, prev string, now time.Time) error {
	var (
		res sql.Result
		err error
	)
	if prev == "" {
		res, err = r.on(tx).ExecContext(ctx, r.rebind(`UPDATE characters SET last_mission_started_at=? WHERE id=? AND (last_mission_started_at IS NULL OR last_mission_started_at='')`),
			domain.FormatTime(now), characterID)
	} else {
		res, err = r.on(tx).ExecContext(ctx, r.rebind(`UPDATE characters SET last_mission_started_at=? WHERE id=? AND last_mission_started_at=?`),
			domain.FormatTime(now), characterID, prev)
	}
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// CreditRewards adds currency and reputation and returns the new balances.
func (r Repo) CreditRewards(ctx context.Context, tx *sql.Tx, characterID string, currency, reputation int64) (int64, int64, error) {
	res, err := r.on(tx).ExecContext(ctx, r.rebind(`UPDATE characters SET currency=currency+?, reputation=reputation+? WHERE id=?`),
		currency, reputation, characterID)
	if err != nil {
		return 0, 0, err
	}
	if err := expectOneRow(res); err != nil {
		return 0, 0, err
	}
	var cur, rep int64
	err = r.on(tx).QueryRowContext(ctx, r.rebind(`SELECT currency,reputation FROM characters WHERE id=?`), characterID).Scan(&cur, &rep)
	return cur, rep, err
}
