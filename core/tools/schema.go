package tools

import "github.com/siherrmann/knowledge/model"

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProperty(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func integerProperty(description string, minimum int, maximum int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     minimum,
		"maximum":     maximum,
	}
}

func booleanProperty(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description}
}

func tagsProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       map[string]interface{}{"type": "string", "maxLength": model.MaxTagLength},
		"maxItems":    model.MaxTags,
	}
}

func roleProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        []string{string(model.RolePM), string(model.RoleDev), string(model.RoleQA), string(model.RoleAll)},
	}
}

func entryTypeProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum": []string{
			string(model.EntryTypeNote),
			string(model.EntryTypeDecision),
			string(model.EntryTypeConstraint),
			string(model.EntryTypeRunbook),
			string(model.EntryTypeLesson),
			string(model.EntryTypeFeedback),
			string(model.EntryTypeCalibration),
		},
	}
}
