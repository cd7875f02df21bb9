package invoker

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/meshrpc/meshrpc-go/pkg/transport"
)

// Normalize coerces a handler's return value into the wire data model.
// Maps, slices and structs are re-encoded through a canonical JSON round
// trip so the reported value is guaranteed representable on the wire;
// anything that cannot be encoded is stringified.
func Normalize(value interface{}) (interface{}, transport.ResultKind) {
	if value == nil {
		return nil, transport.KindNull
	}

	switch v := value.(type) {
	case bool:
		return v, transport.KindBoolean
	case string:
		return v, transport.KindString
	case json.Number:
		return v, transport.KindNumber
	case error:
		return v.Error(), transport.KindString
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return value, transport.KindNumber
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, transport.KindNull
		}
	}

	return roundTrip(value)
}

func roundTrip(value interface{}) (interface{}, transport.ResultKind) {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value), transport.KindString
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Sprint(value), transport.KindString
	}

	switch d := decoded.(type) {
	case nil:
		return nil, transport.KindNull
	case bool:
		return d, transport.KindBoolean
	case float64:
		return d, transport.KindNumber
	case string:
		return d, transport.KindString
	case map[string]interface{}:
		return d, transport.KindObject
	case []interface{}:
		return d, transport.KindArray
	default:
		return fmt.Sprint(value), transport.KindString
	}
}
