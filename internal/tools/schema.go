package tools

// schemaAllowList is the set of schema fields the model backend accepts.
// Everything else (numeric bounds, patterns, formats) is stripped; validating
// those constraints is the tool server's job.
var schemaAllowList = map[string]bool{
	"type":        true,
	"properties":  true,
	"required":    true,
	"items":       true,
	"enum":        true,
	"description": true,
}

// SanitizeSchema strips every field outside the allow-list, recursively.
// Nil input yields a minimal object schema so the model always gets a
// well-formed parameter block.
func SanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return sanitizeObject(schema)
}

func sanitizeObject(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		if !schemaAllowList[key] {
			continue
		}
		switch key {
		case "properties":
			props, ok := value.(map[string]any)
			if !ok {
				continue
			}
			cleaned := make(map[string]any, len(props))
			for name, sub := range props {
				if subMap, ok := sub.(map[string]any); ok {
					cleaned[name] = sanitizeObject(subMap)
				}
			}
			out[key] = cleaned
		case "items":
			if subMap, ok := value.(map[string]any); ok {
				out[key] = sanitizeObject(subMap)
			}
		default:
			out[key] = value
		}
	}
	return out
}
