package selector

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a tier table from a YAML file. The file has a
// top-level "selector" key:
//
//	selector:
//	  threshold1: 2000
//	  threshold2: 12000
//	  tiers:
//	    - name: haiku
//	      model: claude-haiku-4-5-20251001
//	      cost_per_kchar: 0.0004
//	      quality: 0.75
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "selector: read config %s", path)
	}

	var wrapper struct {
		Selector Config `yaml:"selector"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Config{}, eris.Wrap(err, "selector: parse config")
	}

	cfg := wrapper.Selector
	if len(cfg.Tiers) == 0 {
		return Config{}, eris.New("selector: config has no tiers")
	}
	for i, t := range cfg.Tiers {
		if t.Name == "" || t.Model == "" {
			return Config{}, eris.Errorf("selector: tier %d missing name or model", i)
		}
		if t.CostPerKChar <= 0 {
			return Config{}, eris.Errorf("selector: tier %q has non-positive cost", t.Name)
		}
		if i > 0 && t.CostPerKChar < cfg.Tiers[i-1].CostPerKChar {
			return Config{}, eris.Errorf("selector: tiers not ordered cheapest first at %q", t.Name)
		}
	}
	return cfg, nil
}
