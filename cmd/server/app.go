package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/example/mobility-matching/internal/booking"
	"github.com/example/mobility-matching/internal/config"
	"github.com/example/mobility-matching/internal/dispatch"
	"github.com/example/mobility-matching/internal/geo"
	httpapi "github.com/example/mobility-matching/internal/http"
	"github.com/example/mobility-matching/internal/ingest"
	"github.com/example/mobility-matching/internal/logging"
	"github.com/example/mobility-matching/internal/matcher"
	"github.com/example/mobility-matching/internal/provider"
	"github.com/example/mobility-matching/internal/rdw"
	"github.com/example/mobility-matching/internal/storage"
)

type app struct {
	server  *httpapi.Server
	closers []io.Closer
}

func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newEngine registers the providers in their fixed order: own fleet,
// placeholders, municipal, national.
func newEngine(cfg *config.Config, vehicles provider.VehicleLister, log zerolog.Logger) *matcher.Engine {
	var providers []provider.Provider
	if cfg.Providers.Internal.Enabled {
		providers = append(providers, provider.NewInternalFleet(vehicles))
	}
	if cfg.Providers.Placeholders.Enabled {
		providers = append(providers, provider.NewPlaceholder("greenwheels"), provider.NewPlaceholder("mywheels"))
	}
	if cfg.Providers.Municipal.Enabled {
		providers = append(providers, provider.NewMunicipal(cfg.Providers.Municipal, logging.Component(log, "municipal")))
	}
	if cfg.Providers.National.Enabled {
		providers = append(providers, provider.NewNational(cfg.Providers.National, logging.Component(log, "national")))
	}
	return matcher.New(providers,
		matcher.WithProviderTimeout(cfg.Matching.ProviderTimeout),
		matcher.WithMaxConcurrency(cfg.Matching.MaxConcurrentProviders),
		matcher.WithDistance(cfg.Matching.DistanceMode, cfg.Matching.FixedDistanceKm),
		matcher.WithLogger(logging.Component(log, "matcher")),
	)
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{}
	vehicles := storage.NewMemoryVehicleStore(storage.DefaultFleet()...)
	charging := storage.NewMemoryChargingStore(storage.DefaultChargingPoints()...)

	var index geo.Geo = geo.NewIndex()
	if cfg.Redis.Addr != "" {
		rg := geo.NewRedisGeo(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.GeoKey)
		if err := rg.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, using in-memory geo index")
			_ = rg.Close()
		} else {
			index = rg
			a.closers = append(a.closers, rg)
		}
	}
	points, err := charging.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range points {
		if err := index.Upsert(ctx, p); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("seed geo index: %w", err)
		}
	}

	var bookings storage.BookingStore = storage.NewMemoryBookingStore()
	if cfg.Postgres.DSN != "" {
		ps, err := storage.NewPostgresStore(cfg.Postgres.DSN)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, ps)
		if cfg.Postgres.Migrate {
			applied, err := ps.Migrate(ctx)
			if err != nil {
				_ = a.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info().Strs("migrations", applied).Msg("migrations applied")
		}
		bookings = ps
	}

	var events booking.EventPublisher
	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		kp := ingest.NewKafkaProducer(brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, kp)
		events = kp
	}

	ws := dispatch.NewWSRegistry(logging.Component(log, "ws"))
	svc := booking.NewService(bookings, vehicles, events, ws, logging.Component(log, "booking"))

	a.server = httpapi.NewServer(httpapi.Deps{
		Search:   newEngine(cfg, vehicles, log),
		Vehicles: vehicles,
		Charging: charging,
		Geo:      index,
		Bookings: svc,
		RDW:      rdw.NewClient(cfg.RDW, logging.Component(log, "rdw")),
		WS:       ws,
		Auth:     httpapi.NewAuthenticator(cfg.Auth.JWTSecret),
	}, logging.Component(log, "http"))
	return a, nil
}
