package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mobility-matching/internal/config"
	"github.com/example/mobility-matching/internal/storage"
)

func TestNewEngineRegistrationOrder(t *testing.T) {
	c := config.Default()
	e := newEngine(&c, storage.NewMemoryVehicleStore(), zerolog.Nop())
	assert.Equal(t, []string{"internal", "greenwheels", "mywheels", "eindhoven", "national"}, e.Providers())

	c.Providers.Placeholders.Enabled = false
	c.Providers.National.Enabled = false
	e = newEngine(&c, storage.NewMemoryVehicleStore(), zerolog.Nop())
	assert.Equal(t, []string{"internal", "eindhoven"}, e.Providers())
}

func TestNewAppServesWithInMemoryBackends(t *testing.T) {
	c := config.Default()
	a, err := newApp(context.Background(), &c, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/charging-points/nearby?lat=52.3&lon=4.9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"cp1"`)
}
