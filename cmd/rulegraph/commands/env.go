package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/openfroyo/rulegraph/pkg/config"
	"github.com/openfroyo/rulegraph/pkg/connectors/redisfeature"
	"github.com/openfroyo/rulegraph/pkg/connectors/script"
	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/nodes"
	"github.com/openfroyo/rulegraph/pkg/policy"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// environment holds what every command needs to build and run rules.
type environment struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	loader   *config.Loader
	catalog  *nodes.Catalog
	policies *policy.Engine
	redis    redis.UniversalClient
}

func newEnvironment(ctx context.Context) (*environment, error) {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		settings.Telemetry.Logging.Level = lvl
	}

	tel, err := telemetry.NewTelemetry(&settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	env := &environment{
		settings: settings,
		tel:      tel,
		logger:   tel.Logger.Zerolog(),
		catalog:  nodes.DefaultCatalog(),
	}
	env.loader = config.NewLoader(env.logger)

	if err := env.registerConnectors(); err != nil {
		env.close(ctx)
		return nil, err
	}
	if err := env.loadPolicies(ctx); err != nil {
		env.close(ctx)
		return nil, err
	}
	return env, nil
}

func (env *environment) registerConnectors() error {
	cs := env.settings.Connectors
	if cs.ScriptDir != "" {
		handlers, err := script.LoadDir(cs.ScriptDir,
			script.WithTimeout(cs.ScriptTimeout),
			script.WithMaxSteps(cs.MaxSteps),
			script.WithLogger(env.logger),
		)
		if err != nil {
			return err
		}
		if err := script.Register(env.catalog, handlers...); err != nil {
			return err
		}
		env.logger.Debug().Int("scripts", len(handlers)).Str("dir", cs.ScriptDir).Msg("Registered script connectors")
	}

	if cs.Redis.Address != "" {
		env.redis = redis.NewClient(&redis.Options{
			Addr:     cs.Redis.Address,
			Password: cs.Redis.Password,
			DB:       cs.Redis.DB,
		})
		opts := []redisfeature.Option{redisfeature.WithLogger(env.logger)}
		if cs.Redis.Prefix != "" {
			opts = append(opts, redisfeature.WithPrefix(cs.Redis.Prefix))
		}
		if err := env.catalog.RegisterHandler(cs.Redis.Handler, redisfeature.New(env.redis, opts...)); err != nil {
			return err
		}
	}
	return nil
}

func (env *environment) loadPolicies(ctx context.Context) error {
	ps := env.settings.Policies
	if !ps.Enabled {
		return nil
	}
	var opts []policy.EngineOption
	if !ps.Builtins {
		opts = append(opts, policy.WithoutBuiltins())
	}
	eng, err := policy.NewEngine(ctx, env.logger, opts...)
	if err != nil {
		return err
	}
	if len(ps.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, ps.Paths); err != nil {
			return err
		}
	}
	env.policies = eng
	env.catalog.AddValidator(policy.NewValidator(eng, env.logger))
	return nil
}

// buildOptions combines settings, telemetry and the rule name.
func (env *environment) buildOptions(name string) []engine.Option {
	opts := env.settings.EngineOptions()
	opts = append(opts, env.tel.EngineOptions()...)
	return append(opts, engine.WithName(name))
}

// build loads and builds the rule stored at path.
func (env *environment) build(ctx context.Context, path string) (*engine.Rule, error) {
	ctx, span := env.tel.Tracer.StartBuildSpan(ctx, path)
	defer span.End()

	doc, err := env.loader.LoadFile(path)
	if err != nil {
		telemetry.RecordError(span, err)
		env.tel.Metrics.RecordError(err)
		return nil, err
	}
	rule, err := engine.Build(ctx, doc, env.catalog, env.buildOptions(ruleName(path))...)
	if err != nil {
		telemetry.RecordError(span, err)
		env.tel.Metrics.RecordError(err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return rule, nil
}

func (env *environment) close(ctx context.Context) {
	if env.redis != nil {
		_ = env.redis.Close()
	}
	if err := env.tel.Shutdown(ctx); err != nil {
		env.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// ruleName names a rule after its file.
func ruleName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// readRecords decodes a JSON array of records, or a single record, from
// path. "-" reads stdin.
func readRecords(path string, stdin io.Reader) ([]engine.Record, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var record engine.Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		return []engine.Record{record}, nil
	}
	var records []engine.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
