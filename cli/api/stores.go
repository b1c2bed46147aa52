package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oaiiae/contact-leads/datastores"
)

type StoreOptions struct {
	Driver        string `doc:"store contacts in memory, sqlite, postgres or mongodb" default:"memory"`
	DSN           string `doc:"data source name for sqlite and postgres, connection URI for mongodb"`
	MongoDatabase string `doc:"mongodb database holding the contacts collection"     default:"contact_leads"`
}

const defaultSQLiteDSN = "contacts.db"

var errMissingDSN = errors.New("missing data source name")

// OpenStore connects the store selected by options and prepares its schema.
func OpenStore(ctx context.Context, options *StoreOptions, logger *slog.Logger) (datastores.ContactsStore, error) {
	switch strings.ToLower(options.Driver) {
	case "", "memory":
		return datastores.NewContactsInmem(), nil

	case "sqlite":
		dsn := options.DSN
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		return openGorm(ctx, sqlite.Open(dsn), isSQLiteMemory(dsn), logger)

	case "postgres":
		if options.DSN == "" {
			return nil, fmt.Errorf("postgres: %w", errMissingDSN)
		}
		return openGorm(ctx, postgres.Open(options.DSN), false, logger)

	case "mongodb":
		if options.DSN == "" {
			return nil, fmt.Errorf("mongodb: %w", errMissingDSN)
		}
		client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(options.DSN))
		if err != nil {
			return nil, fmt.Errorf("mongodb: %w", err)
		}
		store, err := datastores.NewContactsMongo(ctx, client.Database(options.MongoDatabase))
		if err != nil {
			client.Disconnect(context.WithoutCancel(ctx)) //nolint: errcheck // already failing
			return nil, fmt.Errorf("mongodb: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", options.Driver)
	}
}

func openGorm(ctx context.Context, dialector gorm.Dialector, singleConn bool, logger *slog.Logger) (datastores.ContactsStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dialector.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dialector.Name(), err)
	}
	if singleConn {
		// each connection to an in-memory sqlite database sees its own database
		sqlDB.SetMaxOpenConns(1)
	}

	store, err := datastores.NewContactsGorm(ctx, db)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%s: %w", dialector.Name(), err)
	}
	return store, nil
}

func isSQLiteMemory(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:") || strings.Contains(dsn, "mode=memory")
}
