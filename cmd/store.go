package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/house-scraper/internal/config"
	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/queue"
	"github.com/sells-group/house-scraper/internal/store"
)

// initStore opens the configured backend and migrates it to schema.
func initStore(ctx context.Context, schema *model.Schema) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx, schema); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func loadSchema() (*model.Schema, error) {
	schema, err := model.LoadSchema(cfg.Paths.SchemaFile)
	if err != nil {
		return nil, eris.Wrap(err, "load schema")
	}
	return schema, nil
}

// openStore loads the schema and opens the store in one step for the
// read-only commands.
func openStore(ctx context.Context) (store.Store, *model.Schema, error) {
	if err := cfg.Validate(config.ModeStore); err != nil {
		return nil, nil, err
	}
	schema, err := loadSchema()
	if err != nil {
		return nil, nil, err
	}
	st, err := initStore(ctx, schema)
	if err != nil {
		return nil, nil, err
	}
	return st, schema, nil
}

func newQueue() *queue.Queue {
	return queue.New(cfg.Paths.PendingFile, cfg.Paths.LedgerFile)
}
