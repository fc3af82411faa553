package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	container "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Container"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Startup/seed"
)

// Prepares the configured store: creates collections, tables and indexes,
// then optionally seeds the bike and device directory and test readings.
func main() {
	fixturePath := flag.String("fixture", "", "YAML bike/device fixture; empty uses the built-in campus fixture")
	references := flag.Bool("references", false, "seed bikes and devices")
	readings := flag.Int("readings", 0, "number of test readings to generate")
	window := flag.Duration("window", 24*time.Hour, "generated readings fall within this window before now")
	flag.Parse()

	ctr, err := container.NewApiContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger().WithService("startup")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := ctr.InitializeStore(ctx); err != nil {
		logger.FatalWithError(err, "Failed to initialize store")
	}
	store, err := ctr.GetStore()
	if err != nil {
		logger.FatalWithError(err, "Failed to get store")
	}
	logger.Logger.Info().Str("driver", store.Driver()).Msg("Store initialized")

	seeder := seed.NewSeeder(store, logger, nil)

	if *references {
		fixture := seed.DefaultFixture()
		if *fixturePath != "" {
			if fixture, err = seed.LoadFixture(*fixturePath); err != nil {
				logger.FatalWithError(err, "Failed to load fixture")
			}
		}
		if err := seeder.SeedReferences(ctx, fixture); err != nil {
			logger.FatalWithError(err, "Failed to seed bikes and devices")
		}
	}

	if *readings > 0 {
		if err := seeder.SeedReadings(ctx, *readings, *window, time.Now()); err != nil {
			logger.FatalWithError(err, "Failed to seed readings")
		}
	}
}
