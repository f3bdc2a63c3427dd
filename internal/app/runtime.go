package app

import (
	"database/sql"
	"fmt"

	"dialectica/internal/agent"
	"dialectica/internal/config"
	"dialectica/internal/db"
	"dialectica/internal/engine"
	"dialectica/internal/migrate"
	"dialectica/internal/worker"
)

// Runtime bundles everything a command needs: the open database, the
// effective config, the engine and its worker pool.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Pool   *worker.Pool
}

// Open builds a Runtime for the workspace. The config file is optional;
// defaults apply when it is missing.
func Open(workspace string) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	eng := engine.New(conn, cfg)
	pool, err := buildPool(cfg, eng)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng.Dispatcher = pool

	return &Runtime{DB: conn, Config: cfg, Engine: eng, Pool: pool}, nil
}

func buildPool(cfg *config.Config, eng engine.Engine) (*worker.Pool, error) {
	var (
		researcher  worker.Researcher
		synthesizer worker.Synthesizer
	)
	switch cfg.Workers.Provider {
	case "", "canned":
		c := agent.Canned{}
		researcher, synthesizer = c, c
	case "claude":
		c, err := agent.NewClaude(cfg.Workers.Claude.Model, cfg.Workers.Claude.MaxTokens)
		if err != nil {
			return nil, err
		}
		researcher, synthesizer = c, c
	default:
		return nil, fmt.Errorf("unknown worker provider %q", cfg.Workers.Provider)
	}
	return worker.NewPool(researcher, synthesizer, eng, cfg.Workers.Concurrency), nil
}

// Close waits for in-flight worker invocations and releases the database.
func (rt *Runtime) Close() error {
	if rt.Pool != nil {
		rt.Pool.Wait()
	}
	return rt.DB.Close()
}
