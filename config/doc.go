// Package config provides configuration structures for pipeline stages.
//
// Each stage kind has a config struct with JSON tags, a Default*Config
// constructor, a Merge method for layering partial configuration over
// defaults, and a Validate method enforcing the stage's construction
// constraints. Stage constructors call Validate and return *config.Error
// synchronously on violation, so a misconfigured stage never launches
// workers.
//
// # Typical usage
//
//	cfg := config.DefaultActionConfig()
//	cfg.Merge(&config.ActionConfig{Name: "enrich", Parallelism: 8})
//	stage, err := pipe.NewActionStage(ctx, cfg, action, nil)
//
// # Observers
//
// The Observer field names an observer in the observability registry
// ("noop", "slog", or any name registered by the application). Resolution
// happens at stage construction, keeping the config JSON-serializable.
package config
