package core

// stringValue reads a string out of a provider config map.
func stringValue(config map[string]interface{}, key, defaultValue string) string {
	if value, ok := config[key].(string); ok && value != "" {
		return value
	}
	return defaultValue
}

// intValue reads an int out of a provider config map. JSON decoding
// produces float64 for numbers, so both forms are accepted.
func intValue(config map[string]interface{}, key string, defaultValue int) int {
	switch value := config[key].(type) {
	case int:
		if value != 0 {
			return value
		}
	case float64:
		if value != 0 {
			return int(value)
		}
	}
	return defaultValue
}
