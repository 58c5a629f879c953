package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

type Options struct {
	Driver     string
	SQLitePath string
	Mongo      MongoConfig
}

// Open builds the document store selected by opts.Driver.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (DocumentStore, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return NewSQLite(opts.SQLitePath, logger)
	case DriverMongo:
		return NewMongo(ctx, opts.Mongo, logger)
	case DriverMemory:
		logger.Warn("using in-memory document store; documents are lost on restart")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}
