package plugin

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Resource keys the daemon registers with WithResource.
const (
	ResourceRedis           = "redis"
	ResourceAuditRepository = "audit.repository"
	ResourceEventProducer   = "events.producer"
	ResourceMetrics         = "metrics.registerer"
)

// DecodeConfig copies a plugin configuration block into out, a pointer to a
// struct with yaml tags. Unknown keys are rejected.
func DecodeConfig(cfg map[string]any, out any) error {
	if len(cfg) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode plugin config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode plugin config: %w", err)
	}
	return nil
}
