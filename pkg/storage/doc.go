// Package storage opens the PostgreSQL and Redis connections shared by the
// stores, owns the schema migrations, and classifies driver errors.
//
//	db, err := storage.OpenPostgres(ctx, cfg.Database)
//	if err := storage.RunMigrations(ctx, db, logger); err != nil { ... }
//	rdb, err := storage.OpenRedis(ctx, cfg.Redis) // nil when Redis is not configured
package storage
