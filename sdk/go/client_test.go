package streetrunsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStartMissionSendsBodyAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/start-mission" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization %q", got)
		}
		var body struct {
			MissionID int64 `json:"missionId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MissionID != 7 {
			t.Errorf("unexpected body %+v (%v)", body, err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"mission started","missionId":7,"endsAt":"2024-01-01T12:01:00Z"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	res, err := c.StartMission(context.Background(), 7)
	if err != nil {
		t.Fatalf("start mission: %v", err)
	}
	if res.MissionID != 7 || res.EndsAt.Minute() != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "sr_key" {
			t.Errorf("unexpected api key %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"too many requests, retry in 2s","code":"too_many_requests"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "sr_key"
	_, err := c.StartMission(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Code != "too_many_requests" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.RetryAfterSeconds != 2 {
		t.Fatalf("expected retry after from header, got %d", apiErr.RetryAfterSeconds)
	}
}

func TestSettleMission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/settle-mission" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":"ok","missionId":1,"missionName":"Corner Run","rewards":{"credits":100,"street_cred":5},"currency":100,"reputation":5}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).SettleMission(context.Background())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Currency != 100 || res.Rewards.StreetCred != 5 {
		t.Fatalf("unexpected settlement: %+v", res)
	}
}
