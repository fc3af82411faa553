package implementation

import (
	"fmt"

	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// OpenStore connects the backend selected by cfg.Driver. Callers run Init.
func OpenStore(cfg config.StoreConfig) (interfaces.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return OpenMongoStore(cfg)
	case config.DriverPostgres:
		db, err := ConnectPostgresWithTimeout(cfg)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(db, config.DriverPostgres), nil
	case config.DriverSQLite:
		db, err := ConnectSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLStore(db, config.DriverSQLite), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
