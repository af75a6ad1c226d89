package engine

import (
	"context"
	"errors"
	"fmt"

	"streetrun/internal/domain"
	"streetrun/internal/events"
	"streetrun/internal/repo"
)

// StartMission begins missionID for the character owned by owner and returns
// the ledger entry. Checks run in a fixed order so each failure is distinct:
// character, cooldown, active mission, catalog entry, visibility.
func (e Engine) StartMission(ctx context.Context, owner string, missionID int64) (domain.ActiveMission, error) {
	if missionID <= 0 {
		return domain.ActiveMission{}, &ValidationError{Field: "missionId", Reason: "must be a positive integer"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActiveMission{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCharacterByOwner(ctx, tx, owner)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ActiveMission{}, ErrCharacterNotFound
	}
	if err != nil {
		return domain.ActiveMission{}, fmt.Errorf("load character: %w", err)
	}

	now := e.now()
	if last := c.LastMissionStartedAt; last != nil {
		if elapsed := now.Sub(*last); elapsed < e.Cooldown {
			// A start stamped in the future still waits at most one cooldown.
			return domain.ActiveMission{}, &RateLimitError{RetryAfter: min(e.Cooldown-elapsed, e.Cooldown)}
		}
	}

	if _, err := e.Repo.GetActiveMission(ctx, tx, c.ID); err == nil {
		return domain.ActiveMission{}, ErrMissionAlreadyActive
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ActiveMission{}, fmt.Errorf("load active mission: %w", err)
	}

	m, err := e.Repo.GetMission(ctx, tx, missionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ActiveMission{}, ErrMissionNotFound
	}
	if err != nil {
		return domain.ActiveMission{}, fmt.Errorf("load mission: %w", err)
	}
	if !m.Visible {
		return domain.ActiveMission{}, ErrMissionUnavailable
	}

	am := domain.ActiveMission{
		CharacterID: c.ID,
		MissionID:   m.ID,
		StartedAt:   now,
		EndsAt:      now.Add(m.Duration()),
	}
	if err := e.Repo.InsertActiveMission(ctx, tx, am); err != nil {
		if errors.Is(err, repo.ErrAlreadyActive) {
			return domain.ActiveMission{}, ErrMissionAlreadyActive
		}
		return domain.ActiveMission{}, fmt.Errorf("insert active mission: %w", err)
	}
	if err := e.Repo.MarkMissionStarted(ctx, tx, c.ID, c.StoredLastStart, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ActiveMission{}, &RateLimitError{RetryAfter: e.Cooldown}
		}
		return domain.ActiveMission{}, fmt.Errorf("update last start: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, events.MissionStarted, c.ID, "mission", fmt.Sprint(m.ID), owner, events.EventPayload{
		"mission_id": m.ID,
		"ends_at":    domain.FormatTime(am.EndsAt),
	}); err != nil {
		return domain.ActiveMission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActiveMission{}, err
	}
	e.logger().InfoContext(ctx, "mission started", "character_id", c.ID, "mission_id", m.ID, "ends_at", am.EndsAt)
	return am, nil
}

// SettleMission pays out the caller's completed mission and clears the ledger
// row in one transaction. The delete is keyed on the row that was read, so a
// concurrent settlement that got there first makes this one report
// ErrNoActiveMission instead of paying twice.
func (e Engine) SettleMission(ctx context.Context, owner string) (domain.Settlement, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Settlement{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCharacterByOwner(ctx, tx, owner)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Settlement{}, ErrCharacterNotFound
	}
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("load character: %w", err)
	}
	am, err := e.Repo.GetActiveMission(ctx, tx, c.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Settlement{}, ErrNoActiveMission
	}
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("load active mission: %w", err)
	}

	now := e.now()
	if now.Before(am.EndsAt) {
		return domain.Settlement{}, &NotYetCompleteError{EndsAt: am.EndsAt, Remaining: am.EndsAt.Sub(now)}
	}

	m, err := e.Repo.GetMission(ctx, tx, am.MissionID)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("load mission %d: %w", am.MissionID, err)
	}
	if err := e.Repo.DeleteActiveMission(ctx, tx, am); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Settlement{}, ErrNoActiveMission
		}
		return domain.Settlement{}, fmt.Errorf("delete active mission: %w", err)
	}
	currency, reputation, err := e.Repo.CreditRewards(ctx, tx, c.ID, m.Rewards.Credits, m.Rewards.StreetCred)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("credit rewards: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, events.MissionSettled, c.ID, "mission", fmt.Sprint(m.ID), owner, events.EventPayload{
		"mission_id":  m.ID,
		"rewards":     m.Rewards,
		"currency":    currency,
		"reputation":  reputation,
		"ends_at":     domain.FormatTime(am.EndsAt),
		"settled_at":  domain.FormatTime(now),
		"late_by_sec": int64(now.Sub(am.EndsAt).Seconds()),
	}); err != nil {
		return domain.Settlement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Settlement{}, err
	}
	e.logger().InfoContext(ctx, "mission settled", "character_id", c.ID, "mission_id", m.ID,
		"credits", m.Rewards.Credits, "street_cred", m.Rewards.StreetCred)
	return domain.Settlement{
		CharacterID: c.ID,
		MissionID:   m.ID,
		MissionName: m.Name,
		Rewards:     m.Rewards,
		Currency:    currency,
		Reputation:  reputation,
		SettledAt:   now,
	}, nil
}
