// Package provider adapts upstream vehicle-availability sources to the
// canonical models.Vehicle record.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/example/mobility-matching/internal/models"
)

// ErrUpstream wraps every transport, status and decode failure a provider
// sees. Callers treat it as "no contribution", never as a failed search.
var ErrUpstream = errors.New("upstream unavailable")

// Provider is one data source. Name is for logs and diagnostics only.
type Provider interface {
	Name() string
	FetchAvailable(ctx context.Context, c models.Criteria) ([]models.Vehicle, error)
}

// mapOperator folds a free-text operator or system id into the known set.
func mapOperator(raw string) models.Operator {
	s := strings.ToLower(raw)
	switch {
	case strings.Contains(s, "mywheels"):
		return models.OperatorMyWheels
	case strings.Contains(s, "greenwheels"):
		return models.OperatorGreenwheels
	default:
		return models.OperatorOther
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func getJSON(ctx context.Context, client *http.Client, url, userAgent string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: unexpected status code: %d, body: %s", ErrUpstream, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	return nil
}
