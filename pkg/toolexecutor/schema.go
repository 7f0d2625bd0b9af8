package toolexecutor

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// compiledSchema pairs the JSON schema document handed to providers with
// its compiled form used for argument validation.
type compiledSchema struct {
	document map[string]interface{}
	schema   *gojsonschema.Schema
}

func compileSchema(params []ToolParameter) (*compiledSchema, error) {
	document := buildSchemaDocument(params)

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, err
	}

	return &compiledSchema{document: document, schema: schema}, nil
}

func buildSchemaDocument(params []ToolParameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if param.Minimum != nil {
			paramSchema["minimum"] = *param.Minimum
		}
		if param.Maximum != nil {
			paramSchema["maximum"] = *param.Maximum
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	document := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		document["required"] = required
	}
	return document
}

func (cs *compiledSchema) validate(params map[string]interface{}) error {
	if cs == nil || cs.schema == nil {
		return nil
	}

	result, err := cs.schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}
		return fmt.Errorf("validation errors: %v", messages)
	}
	return nil
}
