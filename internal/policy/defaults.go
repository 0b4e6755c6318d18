package policy

import (
	"os"

	"gopkg.in/yaml.v3"
)

// BuiltinDefaults are the engine's fallback values when no defaults file is
// deployed and no scope carries an override.
func BuiltinDefaults() map[string]string {
	return map[string]string{
		KeySLAAcceptMinutes: "5",
		KeySLAScheduleHours: "24",
		KeyEscalationSteps:  `[{"batchSize":3,"action":"NOTIFY"},{"batchSize":3,"action":"NOTIFY"},{"batchSize":0,"action":"OPERATOR_ALERT","notifyRoles":["operator"]}]`,
		KeyMaxAttempts:      "9",
		KeySearchRadiusKm:   "25",
		KeyMaxCandidates:    "10",
	}
}

// LoadDefaults reads a YAML file of key: value overrides and merges it over
// BuiltinDefaults. A missing file is not an error; the built-ins apply.
func LoadDefaults(path string) (map[string]string, error) {
	defaults := BuiltinDefaults()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return nil, err
	}

	var fileDefaults map[string]string
	if err := yaml.Unmarshal(data, &fileDefaults); err != nil {
		return nil, err
	}

	for key, value := range fileDefaults {
		defaults[key] = value
	}
	return defaults, nil
}
