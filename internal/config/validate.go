package config

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
})

// ValidateSettings checks raw settings, as read from the config file with
// defaults applied, against the embedded JSON schema. Violations are reported
// as "field: description", sorted by field.
func ValidateSettings(settings map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(settings))
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		field := re.Field()
		if field == "(root)" {
			field = "config"
		}
		violations = append(violations, field+": "+re.Description())
	}
	sort.Strings(violations)

	return fmt.Errorf("%w: schema validation failed: %s", ErrInvalid, strings.Join(violations, "; "))
}
