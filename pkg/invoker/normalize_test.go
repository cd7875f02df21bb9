package invoker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meshrpc/meshrpc-go/pkg/transport"
)

func TestNormalize_Scalars(t *testing.T) {
	value, kind := Normalize(nil)
	assert.Nil(t, value)
	assert.Equal(t, transport.KindNull, kind)

	value, kind = Normalize(true)
	assert.Equal(t, true, value)
	assert.Equal(t, transport.KindBoolean, kind)

	value, kind = Normalize(42)
	assert.Equal(t, 42, value)
	assert.Equal(t, transport.KindNumber, kind)

	value, kind = Normalize(3.14)
	assert.Equal(t, 3.14, value)
	assert.Equal(t, transport.KindNumber, kind)

	value, kind = Normalize("hello")
	assert.Equal(t, "hello", value)
	assert.Equal(t, transport.KindString, kind)
}

func TestNormalize_Object(t *testing.T) {
	value, kind := Normalize(map[string]interface{}{"a": 1, "nested": map[string]interface{}{"b": "x"}})

	assert.Equal(t, transport.KindObject, kind)
	decoded := value.(map[string]interface{})
	assert.Equal(t, float64(1), decoded["a"])
	assert.Equal(t, "x", decoded["nested"].(map[string]interface{})["b"])
}

func TestNormalize_StructBecomesObject(t *testing.T) {
	type report struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}

	value, kind := Normalize(report{Status: "ok", Count: 2})

	assert.Equal(t, transport.KindObject, kind)
	decoded := value.(map[string]interface{})
	assert.Equal(t, "ok", decoded["status"])
	assert.Equal(t, float64(2), decoded["count"])
}

func TestNormalize_Array(t *testing.T) {
	value, kind := Normalize([]string{"a", "b"})

	assert.Equal(t, transport.KindArray, kind)
	assert.Equal(t, []interface{}{"a", "b"}, value)
}

func TestNormalize_UnencodableFallsBackToString(t *testing.T) {
	value, kind := Normalize(make(chan int))

	assert.Equal(t, transport.KindString, kind)
	assert.IsType(t, "", value)
}

func TestNormalize_NilPointer(t *testing.T) {
	var p *int
	value, kind := Normalize(p)

	assert.Nil(t, value)
	assert.Equal(t, transport.KindNull, kind)
}

// Round-trip property: normalized maps and slices survive another encode/
// decode cycle structurally unchanged.
func TestNormalize_RoundTripStable(t *testing.T) {
	inputs := []interface{}{
		map[string]interface{}{"k": []interface{}{1, "two", true, nil}},
		[]interface{}{map[string]interface{}{"deep": map[string]interface{}{"x": 1.5}}},
	}

	for _, in := range inputs {
		once, kind1 := Normalize(in)
		twice, kind2 := Normalize(once)
		assert.Equal(t, kind1, kind2)
		assert.Equal(t, once, twice)
	}
}
