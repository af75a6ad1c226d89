package server

import (
	"time"

	"streetrun/internal/domain"
)

type StartMissionRequest struct {
	MissionID int64 `json:"missionId" minimum:"1" doc:"Catalog id of the mission to start"`
}

type StartMissionResponse struct {
	Message   string    `json:"message"`
	MissionID int64     `json:"missionId"`
	EndsAt    time.Time `json:"endsAt" doc:"Server-computed completion time"`
}

type SettleMissionResponse struct {
	Message     string         `json:"message"`
	MissionID   int64          `json:"missionId"`
	MissionName string         `json:"missionName"`
	Rewards     domain.Rewards `json:"rewards"`
	Currency    int64          `json:"currency"`
	Reputation  int64          `json:"reputation"`
	SettledAt   time.Time      `json:"settledAt"`
}

type MissionResponse struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	DurationSeconds int64          `json:"durationSeconds"`
	Rewards         domain.Rewards `json:"rewards"`
}

type ActiveMissionResponse struct {
	MissionID        int64     `json:"missionId"`
	MissionName      string    `json:"missionName,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	EndsAt           time.Time `json:"endsAt"`
	RemainingSeconds int64     `json:"remainingSeconds"`
}

type MeResponse struct {
	CharacterID          string                 `json:"characterId"`
	Name                 string                 `json:"name"`
	Currency             int64                  `json:"currency"`
	Reputation           int64                  `json:"reputation"`
	LastMissionStartedAt *time.Time             `json:"lastMissionStartedAt,omitempty"`
	ActiveMission        *ActiveMissionResponse `json:"activeMission,omitempty"`
}

type EventResponse struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type DevLoginRequest struct {
	Subject string `json:"subject" minLength:"1"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func missionResponse(m domain.MissionDefinition) MissionResponse {
	return MissionResponse{
		ID:              m.ID,
		Name:            m.Name,
		Description:     m.Description,
		DurationSeconds: m.DurationSeconds,
		Rewards:         m.Rewards,
	}
}

func meResponse(st domain.CharacterStatus) MeResponse {
	out := MeResponse{
		CharacterID:          st.Character.ID,
		Name:                 st.Character.Name,
		Currency:             st.Character.Currency,
		Reputation:           st.Character.Reputation,
		LastMissionStartedAt: st.Character.LastMissionStartedAt,
	}
	if st.Active != nil {
		am := &ActiveMissionResponse{
			MissionID:        st.Active.MissionID,
			StartedAt:        st.Active.StartedAt,
			EndsAt:           st.Active.EndsAt,
			RemainingSeconds: st.RemainingSeconds,
		}
		if st.Mission != nil {
			am.MissionName = st.Mission.Name
		}
		out.ActiveMission = am
	}
	return out
}

func settleResponse(s domain.Settlement) SettleMissionResponse {
	return SettleMissionResponse{
		Message:     "mission complete: " + s.MissionName,
		MissionID:   s.MissionID,
		MissionName: s.MissionName,
		Rewards:     s.Rewards,
		Currency:    s.Currency,
		Reputation:  s.Reputation,
		SettledAt:   s.SettledAt,
	}
}
