package app

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

// commands maps a command name to the request type the web API accepts for it.
var commands = map[string]any{
	"create_item":            CreateItemRequest{},
	"create_location":        CreateLocationRequest{},
	"create_packing_variant": CreatePackingVariantRequest{},
	"receive_stock":          ReceiveStockRequest{},
	"adjust_stock":           AdjustStockRequest{},
	"pack_stock":             PackStockRequest{},
	"reserve":                ReserveRequest{},
	"register_recipe":        RegisterRecipeRequest{},
	"start_batch":            StartBatchRequest{},
	"check_batch_inputs":     StartBatchRequest{},
	"complete_batch":         CompleteBatchRequest{},
	"create_shipment":        CreateShipmentRequest{},
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// CommandNames lists the commands CommandSchema knows, sorted.
func CommandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CommandSchema returns the JSON Schema of a command's request body.
// Decimal quantities are described as numeric strings.
func CommandSchema(name string) (*jsonschema.Schema, error) {
	v, ok := commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == decimalType {
				return &jsonschema.Schema{
					Type:    "string",
					Pattern: `^-?[0-9]+(\.[0-9]+)?$`,
				}
			}
			return nil
		},
	}
	return reflector.Reflect(v), nil
}
