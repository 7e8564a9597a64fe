package confloader

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Export converts a configuration struct back into a nested map keyed by
// its koanf tags, the shape the YAML file uses. Durations become strings
// such as "250ms".
func Export(cfg any) (map[string]any, error) {
	out := make(map[string]any)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "koanf",
		Result:  &out,
	})
	if err != nil {
		return nil, fmt.Errorf("confloader: export: %w", err)
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("confloader: export: %w", err)
	}
	stringifyDurations(out)
	return out, nil
}

func stringifyDurations(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case time.Duration:
			m[k] = val.String()
		case map[string]any:
			stringifyDurations(val)
		}
	}
}
