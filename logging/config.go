package logging

import "time"

// Config tunes the event router. Zero values take the package defaults.
type Config struct {
	// BufferSize bounds the router queue. A full queue drops events
	// instead of blocking the publisher.
	BufferSize int
	// MinimumSeverity filters events before fan-out.
	MinimumSeverity Severity
	// Fields is merged into every event's Extra map, for deployment-wide
	// tags such as the node name.
	Fields map[string]any
	// JSONFlushEvery paces the JSON sink's buffered writer.
	JSONFlushEvery time.Duration
	// DropWarnInterval rate-limits the overflow warning on the fallback
	// logger.
	DropWarnInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:       256,
		MinimumSeverity:  SeverityInfo,
		JSONFlushEvery:   2 * time.Second,
		DropWarnInterval: 5 * time.Second,
	}
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
