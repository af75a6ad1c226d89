package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"streetrun/internal/config"
	"streetrun/internal/db"
	"streetrun/internal/domain"
	"streetrun/internal/events"
	"streetrun/internal/repo"
)

var ErrCharacterExists = errors.New("identity already has a character")

// ErrInvalidAPIKey means the presented key is empty, unknown or revoked.
var ErrInvalidAPIKey = errors.New("invalid api key")

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Cooldown time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Events:   events.Writer{Dialect: dialect},
		Cooldown: cfg.StartCooldown(),
		Now:      time.Now,
		Logger:   slog.Default(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) eventWriter() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

// CreateCharacter provisions the character record for an identity.
func (e Engine) CreateCharacter(ctx context.Context, owner, name string) (domain.Character, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.Character{}, &ValidationError{Field: "owner", Reason: "required"}
	}
	if name == "" {
		name = owner
	}
	c := domain.Character{
		ID:            uuid.NewString(),
		OwnerIdentity: owner,
		Name:          name,
		CreatedAt:     e.now(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Character{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCharacter(ctx, tx, c); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Character{}, ErrCharacterExists
		}
		return domain.Character{}, fmt.Errorf("insert character: %w", err)
	}
	if err := e.eventWriter().Append(ctx, tx, events.CharacterCreated, c.ID, "character", c.ID, owner, events.EventPayload{"name": c.Name}); err != nil {
		return domain.Character{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Character{}, err
	}
	return c, nil
}

// Character returns the record linked to owner.
func (e Engine) Character(ctx context.Context, owner string) (domain.Character, error) {
	c, err := e.Repo.GetCharacterByOwner(ctx, nil, owner)
	if errors.Is(err, repo.ErrNotFound) {
		return c, ErrCharacterNotFound
	}
	return c, err
}

// Status reports the caller's balances and running mission, if any.
func (e Engine) Status(ctx context.Context, owner string) (domain.CharacterStatus, error) {
	c, err := e.Character(ctx, owner)
	if err != nil {
		return domain.CharacterStatus{}, err
	}
	st := domain.CharacterStatus{Character: c}
	am, err := e.Repo.GetActiveMission(ctx, nil, c.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.Active = &am
	if m, err := e.Repo.GetMission(ctx, nil, am.MissionID); err == nil {
		st.Mission = &m
	} else if !errors.Is(err, repo.ErrNotFound) {
		return st, err
	}
	st.RemainingSeconds = ceilSeconds(am.EndsAt.Sub(e.now()))
	return st, nil
}

// VisibleMissions lists the catalog entries players may start.
func (e Engine) VisibleMissions(ctx context.Context) ([]domain.MissionDefinition, error) {
	return e.Repo.ListMissions(ctx, false)
}

// ImportCatalog upserts mission definitions. Operators only.
func (e Engine) ImportCatalog(ctx context.Context, missions []domain.MissionDefinition, actorID string) error {
	if err := config.ValidateCatalog(missions); err != nil {
		return &ValidationError{Field: "catalog", Reason: err.Error()}
	}
	if len(missions) == 0 {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ids := make([]int64, 0, len(missions))
	for _, m := range missions {
		if err := e.Repo.UpsertMission(ctx, tx, m); err != nil {
			return fmt.Errorf("upsert mission %d: %w", m.ID, err)
		}
		ids = append(ids, m.ID)
	}
	if err := e.eventWriter().Append(ctx, tx, events.CatalogImported, "", "catalog", "", actorID, events.EventPayload{"mission_ids": ids}); err != nil {
		return err
	}
	return tx.Commit()
}

// SeedCatalog adds the missions whose ids are not stored yet and returns how
// many were added. Existing rows keep their imported and toggled state.
func (e Engine) SeedCatalog(ctx context.Context, missions []domain.MissionDefinition, actorID string) (int, error) {
	if err := config.ValidateCatalog(missions); err != nil {
		return 0, &ValidationError{Field: "catalog", Reason: err.Error()}
	}
	if len(missions) == 0 {
		return 0, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	var added []int64
	for _, m := range missions {
		ok, err := e.Repo.InsertMissionIfMissing(ctx, tx, m)
		if err != nil {
			return 0, fmt.Errorf("seed mission %d: %w", m.ID, err)
		}
		if ok {
			added = append(added, m.ID)
		}
	}
	if len(added) == 0 {
		return 0, nil
	}
	if err := e.eventWriter().Append(ctx, tx, events.CatalogImported, "", "catalog", "", actorID, events.EventPayload{"mission_ids": added, "seeded": true}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(added), nil
}

// SetMissionVisibility hides or re-enables a mission. Running missions are
// unaffected and still settle.
func (e Engine) SetMissionVisibility(ctx context.Context, missionID int64, visible bool, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetMissionVisible(ctx, tx, missionID, visible); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMissionNotFound
		}
		return err
	}
	if err := e.eventWriter().Append(ctx, tx, events.MissionVisible, "", "mission", fmt.Sprint(missionID), actorID, events.EventPayload{"visible": visible}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey issues a new key for owner. The plain key is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, owner, name string) (string, domain.APIKey, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", domain.APIKey{}, &ValidationError{Field: "owner", Reason: "required"}
	}
	plain := "sr_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:            uuid.NewString(),
		OwnerIdentity: owner,
		Name:          name,
		KeyHash:       repo.HashAPIKey(plain),
		CreatedAt:     domain.FormatTime(e.now()),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

// ResolveAPIKey maps a presented key to its owner identity.
func (e Engine) ResolveAPIKey(ctx context.Context, plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", ErrInvalidAPIKey
	}
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrInvalidAPIKey
	}
	if err != nil {
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	return key.OwnerIdentity, nil
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	err := e.Repo.DeleteAPIKey(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("api key %s not found", id)
	}
	return err
}

// RecentEvents returns the newest events for the caller's character.
func (e Engine) RecentEvents(ctx context.Context, owner string, limit int) ([]domain.Event, error) {
	c, err := e.Character(ctx, owner)
	if err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, limit, c.ID, "")
}
