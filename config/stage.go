package config

// ActionConfig defines configuration for an action stage: a bounded queue
// drained by a pool of workers that apply an action to every envelope.
//
// Configuration is used only during initialization, then transformed into
// domain objects. The Observer field is a string to enable JSON
// configuration with observer resolution at runtime.
//
// Example JSON:
//
//	{
//	  "name": "enrich",
//	  "capacity": 64,
//	  "parallelism": 8,
//	  "observer": "slog"
//	}
type ActionConfig struct {
	// Name identifies the stage for logging and metrics
	Name string `json:"name"`

	// Capacity is the bounded queue size. Senders block once Capacity
	// envelopes are waiting. Must be >= 1.
	Capacity int `json:"capacity"`

	// Parallelism is the number of worker goroutines draining the queue.
	// Must be >= 1.
	Parallelism int `json:"parallelism"`

	// Observer specifies which observer implementation to use ("noop", "slog", etc.)
	Observer string `json:"observer"`
}

// DefaultActionConfig returns sensible defaults for an action stage.
//
// Capacity 64 absorbs bursts without unbounded memory; parallelism 4 suits
// I/O-bound actions. CPU-bound actions should set Parallelism to
// runtime.NumCPU().
func DefaultActionConfig() ActionConfig {
	return ActionConfig{
		Name:        "action",
		Capacity:    64,
		Parallelism: 4,
		Observer:    "slog",
	}
}

func (c *ActionConfig) Merge(source *ActionConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.Capacity > 0 {
		c.Capacity = source.Capacity
	}

	if source.Parallelism > 0 {
		c.Parallelism = source.Parallelism
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// Validate reports the first invalid field, or nil.
func (c *ActionConfig) Validate() error {
	if c.Capacity < 1 {
		return &Error{Field: "capacity", Value: c.Capacity, Reason: "must be >= 1"}
	}
	if c.Parallelism < 1 {
		return &Error{Field: "parallelism", Value: c.Parallelism, Reason: "must be >= 1"}
	}
	return nil
}

// BatchConfig defines configuration for a batch stage: a single worker that
// accumulates envelopes into fixed-size groups before invoking the flush
// callback.
type BatchConfig struct {
	// Name identifies the stage for logging and metrics
	Name string `json:"name"`

	// Capacity is the bounded queue size. Must be >= 1.
	Capacity int `json:"capacity"`

	// BatchSize is the number of items that triggers a flush. The final
	// batch emitted on completion may be smaller. Must be >= 1.
	BatchSize int `json:"batch_size"`

	// Observer specifies which observer implementation to use ("noop", "slog", etc.)
	Observer string `json:"observer"`
}

// DefaultBatchConfig returns sensible defaults for a batch stage.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Name:      "batch",
		Capacity:  64,
		BatchSize: 16,
		Observer:  "slog",
	}
}

func (c *BatchConfig) Merge(source *BatchConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.Capacity > 0 {
		c.Capacity = source.Capacity
	}

	if source.BatchSize > 0 {
		c.BatchSize = source.BatchSize
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// Validate reports the first invalid field, or nil.
func (c *BatchConfig) Validate() error {
	if c.Capacity < 1 {
		return &Error{Field: "capacity", Value: c.Capacity, Reason: "must be >= 1"}
	}
	if c.BatchSize < 1 {
		return &Error{Field: "batch_size", Value: c.BatchSize, Reason: "must be >= 1"}
	}
	return nil
}

// BatchActionConfig defines configuration for a batch-action stage: a batch
// stage whose emitted batches feed an inner worker pool for concurrent
// per-batch processing.
type BatchActionConfig struct {
	// Name identifies the stage for logging and metrics
	Name string `json:"name"`

	// Capacity is the bounded queue size of the accumulation stage. Must be >= 1.
	Capacity int `json:"capacity"`

	// BatchSize is the number of items that triggers a flush. Must be >= 1.
	BatchSize int `json:"batch_size"`

	// Parallelism is the number of workers processing emitted batches
	// concurrently. Must be >= 1.
	Parallelism int `json:"parallelism"`

	// Observer specifies which observer implementation to use ("noop", "slog", etc.)
	Observer string `json:"observer"`
}

// DefaultBatchActionConfig returns sensible defaults for a batch-action stage.
func DefaultBatchActionConfig() BatchActionConfig {
	return BatchActionConfig{
		Name:        "batch-action",
		Capacity:    64,
		BatchSize:   16,
		Parallelism: 4,
		Observer:    "slog",
	}
}

func (c *BatchActionConfig) Merge(source *BatchActionConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.Capacity > 0 {
		c.Capacity = source.Capacity
	}

	if source.BatchSize > 0 {
		c.BatchSize = source.BatchSize
	}

	if source.Parallelism > 0 {
		c.Parallelism = source.Parallelism
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// Validate reports the first invalid field, or nil.
func (c *BatchActionConfig) Validate() error {
	if c.Capacity < 1 {
		return &Error{Field: "capacity", Value: c.Capacity, Reason: "must be >= 1"}
	}
	if c.BatchSize < 1 {
		return &Error{Field: "batch_size", Value: c.BatchSize, Reason: "must be >= 1"}
	}
	if c.Parallelism < 1 {
		return &Error{Field: "parallelism", Value: c.Parallelism, Reason: "must be >= 1"}
	}
	return nil
}

// ParallelConfig defines configuration for a fork-join stage that broadcasts
// every envelope to a fixed set of child stages and joins their completions
// per item.
type ParallelConfig struct {
	// Name identifies the stage for logging and metrics
	Name string `json:"name"`

	// Children is the number of child stages the factory must produce.
	// Must be >= 1.
	Children int `json:"children"`

	// Observer specifies which observer implementation to use ("noop", "slog", etc.)
	Observer string `json:"observer"`
}

// DefaultParallelConfig returns sensible defaults for a fork-join stage.
// Children has no useful default and must be set by the caller.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Name:     "parallel",
		Observer: "slog",
	}
}

func (c *ParallelConfig) Merge(source *ParallelConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.Children > 0 {
		c.Children = source.Children
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}
}

// Validate reports the first invalid field, or nil.
func (c *ParallelConfig) Validate() error {
	if c.Children < 1 {
		return &Error{Field: "children", Value: c.Children, Reason: "must be >= 1"}
	}
	return nil
}
