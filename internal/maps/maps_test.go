package maps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"googlemaps.github.io/maps"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/route"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", maps.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestResolve(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/maps/api/geocode/json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("address") == "nowhere" {
			_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK","results":[{"geometry":{"location":{"lat":28.6129,"lng":77.2295}}}]}`))
	})

	got, err := c.Resolve(context.Background(), "India Gate")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != (models.Coord{Lat: 28.6129, Lon: 77.2295}) {
		t.Fatalf("unexpected coord %+v", got)
	}
	if _, err := c.Resolve(context.Background(), "nowhere"); !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestEstimate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","rows":[{"elements":[{"status":"OK","distance":{"value":8200,"text":"8.2 km"},"duration":{"value":1260,"text":"21 mins"}}]}]}`))
	})
	leg, err := c.Estimate(context.Background(), models.Coord{Lat: 28.70, Lon: 77.10}, models.Coord{Lat: 28.65, Lon: 77.15})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if leg != (route.Leg{DistanceMeters: 8200, DurationSeconds: 1260}) {
		t.Fatalf("unexpected leg %+v", leg)
	}
}

func TestEstimateUnroutable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","rows":[{"elements":[{"status":"ZERO_RESULTS"}]}]}`))
	})
	_, err := c.Estimate(context.Background(), models.Coord{Lat: 1}, models.Coord{Lat: 2})
	if !errors.Is(err, route.ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestSuggest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","predictions":[{"description":"Connaught Place, New Delhi"},{"description":"Connaught Circus, New Delhi"}]}`))
	})
	got, err := c.Suggest(context.Background(), "Conn")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) != 2 || got[0] != "Connaught Place, New Delhi" {
		t.Fatalf("unexpected suggestions %v", got)
	}
	empty, err := c.Suggest(context.Background(), "  ")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no suggestions for blank input, got %v %v", empty, err)
	}
}
