// Package config loads process settings and rule documents.
//
// # Settings
//
// Settings are read from YAML over DefaultSettings and checked with
// validator struct tags:
//
//	telemetry:
//	  logging:
//	    level: debug
//	rules:
//	  strict: true
//	  max_flow_depth: 4
//	connectors:
//	  script_dir: ./connectors
//	  redis:
//	    address: localhost:6379
//	policies:
//	  enabled: true
//	  paths: [./policies]
//	scheduler:
//	  chunk_size: 1000
//
// # Documents
//
// Loader accepts rule documents as JSON, YAML or CUE. Every document is
// converted to JSON and unified with the built-in "graph" CUE schema before
// engine.ParseDocument sees it, so shape errors carry file positions:
//
//	loader := config.NewLoader(logger)
//	doc, err := loader.LoadFile("rules/credit.yaml")
//	if err != nil {
//	    return err
//	}
//	rule, err := engine.Build(ctx, doc, catalog, settings.EngineOptions()...)
//
// JSON documents are passed through unchanged, so their content hash matches
// the file. YAML and CUE documents hash their JSON rendering.
//
// # Watching
//
// Watcher reloads documents on change with a short debounce, which the
// watch command uses to rebuild rules while they are edited.
package config
