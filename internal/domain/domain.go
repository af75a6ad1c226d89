package domain

import "time"

// TimeLayout is fixed-width UTC so stored timestamps sort lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the storage layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime. RFC3339 values are
// accepted for rows written by hand.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

type RewardItem struct {
	Kind     string `json:"kind" yaml:"kind"`
	ID       string `json:"id" yaml:"id"`
	Quantity int    `json:"quantity" yaml:"quantity"`
}

// Rewards is the reward schedule paid out on settlement.
type Rewards struct {
	Credits    int64        `json:"credits" yaml:"credits"`
	StreetCred int64        `json:"street_cred" yaml:"street_cred"`
	Items      []RewardItem `json:"items,omitempty" yaml:"items,omitempty"`
}

type MissionDefinition struct {
	ID              int64   `json:"id" yaml:"id"`
	Name            string  `json:"name" yaml:"name"`
	Description     string  `json:"description,omitempty" yaml:"description,omitempty"`
	DurationSeconds int64   `json:"duration_seconds" yaml:"duration_seconds"`
	Rewards         Rewards `json:"rewards" yaml:"rewards"`
	Visible         bool    `json:"visible" yaml:"visible"`
}

func (m MissionDefinition) Duration() time.Duration {
	return time.Duration(m.DurationSeconds) * time.Second
}

type Character struct {
	ID                   string     `json:"id"`
	OwnerIdentity        string     `json:"owner_identity"`
	Name                 string     `json:"name"`
	Currency             int64      `json:"currency"`
	Reputation           int64      `json:"reputation"`
	LastMissionStartedAt *time.Time `json:"last_mission_started_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	// StoredLastStart is last_mission_started_at exactly as read; writes that
	// compare against the column use it.
	StoredLastStart string `json:"-"`
}

// ActiveMission is a ledger row. Its existence means the character is busy.
type ActiveMission struct {
	CharacterID string    `json:"character_id"`
	MissionID   int64     `json:"mission_id"`
	StartedAt   time.Time `json:"started_at"`
	EndsAt      time.Time `json:"ends_at"`
	// StoredEndsAt is ends_at exactly as read, empty for rows not read back.
	StoredEndsAt string `json:"-"`
}

// Settlement is the result of paying out a completed mission.
type Settlement struct {
	CharacterID string    `json:"character_id"`
	MissionID   int64     `json:"mission_id"`
	MissionName string    `json:"mission_name"`
	Rewards     Rewards   `json:"rewards"`
	Currency    int64     `json:"currency"`
	Reputation  int64     `json:"reputation"`
	SettledAt   time.Time `json:"settled_at"`
}

type CharacterStatus struct {
	Character        Character          `json:"character"`
	Active           *ActiveMission     `json:"active,omitempty"`
	Mission          *MissionDefinition `json:"mission,omitempty"`
	RemainingSeconds int64              `json:"remaining_seconds"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	CharacterID string `json:"character_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID            string `json:"id"`
	OwnerIdentity string `json:"owner_identity"`
	Name          string `json:"name,omitempty"`
	KeyHash       string `json:"key_hash"`
	CreatedAt     string `json:"created_at"`
}
