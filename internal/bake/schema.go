package bake

import (
	"reflect"

	"github.com/invopop/jsonschema"
)

// Schema describes the JSON form of a Descriptor for authoring tools.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.ReflectFromType(reflect.TypeOf(Descriptor{}))
	if schema == nil {
		return &jsonschema.Schema{Version: jsonschema.Version}
	}
	schema.Title = "Navigation Bake"
	schema.Description = "Triangulated navigable surface produced by the authoring pipeline."
	return schema
}
