package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMissions(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List startable missions",
		Security:    securityRequirement,
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Missions []MissionResponse `json:"missions"`
		} `json:"body"`
	}, error) {
		missions, err := h.engine.VisibleMissions(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		out := &struct {
			Body struct {
				Missions []MissionResponse `json:"missions"`
			} `json:"body"`
		}{}
		out.Body.Missions = make([]MissionResponse, 0, len(missions))
		for _, m := range missions {
			out.Body.Missions = append(out.Body.Missions, missionResponse(m))
		}
		return out, nil
	})
}

func registerMe(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Character balances and running mission",
		Security:    securityRequirement,
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		owner, serr := ownerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		st, err := h.engine.Status(ctx, owner)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: meResponse(st)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-events",
		Method:      http.MethodGet,
		Path:        "/me/events",
		Summary:     "Recent events for the caller's character",
		Security:    securityRequirement,
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"1" maximum:"200" default:"50"`
	}) (*struct {
		Body struct {
			Events []EventResponse `json:"events"`
		} `json:"body"`
	}, error) {
		owner, serr := ownerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		events, err := h.engine.RecentEvents(ctx, owner, input.Limit)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		out := &struct {
			Body struct {
				Events []EventResponse `json:"events"`
			} `json:"body"`
		}{}
		out.Body.Events = make([]EventResponse, 0, len(events))
		for _, evt := range events {
			out.Body.Events = append(out.Body.Events, EventResponse{
				ID:      evt.ID,
				TS:      evt.TS,
				Type:    evt.Type,
				Payload: evt.Payload,
			})
		}
		return out, nil
	})
}

func registerStartMission(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "start-mission",
		Method:      http.MethodPost,
		Path:        "/start-mission",
		Summary:     "Start a timed mission",
		Security:    securityRequirement,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body StartMissionRequest `json:"body"`
	}) (*struct {
		Body StartMissionResponse `json:"body"`
	}, error) {
		owner, serr := ownerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		am, err := h.engine.StartMission(ctx, owner, input.Body.MissionID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body StartMissionResponse `json:"body"`
		}{Body: StartMissionResponse{
			Message:   "mission started",
			MissionID: am.MissionID,
			EndsAt:    am.EndsAt,
		}}, nil
	})
}

func registerSettleMission(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "settle-mission",
		Method:      http.MethodPost,
		Path:        "/settle-mission",
		Summary:     "Settle the caller's completed mission",
		Security:    securityRequirement,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SettleMissionResponse `json:"body"`
	}, error) {
		owner, serr := ownerFromContext(ctx)
		if serr != nil {
			return nil, serr
		}
		s, err := h.engine.SettleMission(ctx, owner)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body SettleMissionResponse `json:"body"`
		}{Body: settleResponse(s)}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		subject := strings.TrimSpace(input.Body.Subject)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "subject required")
		}
		token, err := authCfg.Signer.Sign(subject)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error())
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
