package main

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/amana-chat/internal/config"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/data/sqlstore"
	"github.com/PaulBabatuyi/amana-chat/internal/db"
)

// backend is the storage selected by STORE_DRIVER.
type backend struct {
	users  data.UserStore
	msgs   data.MessageStore
	pinger data.Pinger
	close  func(context.Context) error
}

// openBackend connects to the configured store and prepares its schema:
// indexes for Mongo, migrations for the SQL drivers.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		client, err := db.New(ctx, cfg.Store.MongoURI, cfg.Store.MongoDB)
		if err != nil {
			return nil, err
		}
		if err := client.CreateIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return &backend{
			users:  data.NewUsersStore(client.UsersCollection()),
			msgs:   data.NewMessagesStore(client.MessagesCollection()),
			pinger: client,
			close:  client.Close,
		}, nil

	case config.DriverSQLite, config.DriverPostgres:
		var (
			store *sqlstore.Store
			err   error
		)
		if cfg.Store.Driver == config.DriverSQLite {
			store, err = sqlstore.OpenSQLite(cfg.Store.SQLitePath)
		} else {
			store, err = sqlstore.OpenPostgres(ctx, cfg.Store.DatabaseURL)
		}
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &backend{
			users:  store,
			msgs:   store,
			pinger: store,
			close:  func(context.Context) error { return store.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
