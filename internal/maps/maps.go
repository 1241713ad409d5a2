// Package maps wraps the Google Maps web services used for address lookup,
// road distance and address suggestions.
package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/route"
)

var ErrAddressNotFound = errors.New("address not found")

type Client struct {
	client *maps.Client
}

func NewClient(apiKey string, opts ...maps.ClientOption) (*Client, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Client{client: client}, nil
}

// Resolve geocodes a free-text address to its first match.
func (c *Client) Resolve(ctx context.Context, address string) (models.Coord, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return models.Coord{}, ErrAddressNotFound
	}
	results, err := c.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return models.Coord{}, fmt.Errorf("geocode api error: %w", err)
	}
	if len(results) == 0 {
		return models.Coord{}, fmt.Errorf("%w: %q", ErrAddressNotFound, address)
	}
	loc := results[0].Geometry.Location
	return models.Coord{Lat: loc.Lat, Lon: loc.Lng}, nil
}

// Estimate returns the driving distance and duration between two points.
func (c *Client) Estimate(ctx context.Context, from, to models.Coord) (route.Leg, error) {
	resp, err := c.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{latLng(from)},
		Destinations: []string{latLng(to)},
		Mode:         maps.TravelModeDriving,
	})
	if err != nil {
		return route.Leg{}, fmt.Errorf("distance matrix api error: %w", err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return route.Leg{}, route.ErrNoRoute
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return route.Leg{}, fmt.Errorf("%w: element status %s", route.ErrNoRoute, el.Status)
	}
	return route.Leg{
		DistanceMeters:  int64(el.Distance.Meters),
		DurationSeconds: int64(el.Duration.Seconds() + 0.5),
	}, nil
}

// Suggest returns autocomplete descriptions for a partial address.
func (c *Client) Suggest(ctx context.Context, input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return []string{}, nil
	}
	resp, err := c.client.PlaceAutocomplete(ctx, &maps.PlaceAutocompleteRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("places api error: %w", err)
	}
	out := make([]string, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		out = append(out, p.Description)
	}
	return out, nil
}

func latLng(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}
