package fetchup

import (
	"math"
	"reflect"
	"time"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
	"github.com/modern-go/reflect2"
)

// Non-finite float spellings accepted inside JSON strings.
const (
	positiveInfinity = "Infinity"
	negativeInfinity = "-Infinity"
	notANumber       = "NaN"
)

var (
	float64Type = reflect.TypeOf(float64(0))
	float32Type = reflect.TypeOf(float32(0))
	timeType    = reflect.TypeOf(time.Time{})
)

// jsonAPI mirrors encoding/json and additionally reads the non-finite float
// spellings and ISO-8601 timestamps with or without fractional seconds.
var jsonAPI = newJSONAPI()

func newJSONAPI() jsoniter.API {
	api := jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
	}.Froze()
	api.RegisterExtension(&decodeExtension{})
	return api
}

// DecodeJSON unmarshals data into v with the default response decoder.
func DecodeJSON(data []byte, v any) error {
	return jsonAPI.Unmarshal(data, v)
}

type decodeExtension struct {
	jsoniter.DummyExtension
}

func (e *decodeExtension) CreateDecoder(typ reflect2.Type) jsoniter.ValDecoder {
	switch typ.Type1() {
	case float64Type:
		return &floatDecoder{bits: 64}
	case float32Type:
		return &floatDecoder{bits: 32}
	case timeType:
		return &timeDecoder{}
	}
	return nil
}

type floatDecoder struct {
	bits int
}

func (d *floatDecoder) Decode(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		return
	case jsoniter.StringValue:
		s := iter.ReadString()
		var f float64
		switch s {
		case positiveInfinity:
			f = math.Inf(1)
		case negativeInfinity:
			f = math.Inf(-1)
		case notANumber:
			f = math.NaN()
		default:
			iter.ReportError("decode float", "unexpected string "+s)
			return
		}
		d.store(ptr, f)
		return
	}

	if d.bits == 32 {
		*(*float32)(ptr) = iter.ReadFloat32()
		return
	}
	*(*float64)(ptr) = iter.ReadFloat64()
}

func (d *floatDecoder) store(ptr unsafe.Pointer, f float64) {
	if d.bits == 32 {
		*(*float32)(ptr) = float32(f)
		return
	}
	*(*float64)(ptr) = f
}

type timeDecoder struct{}

func (d *timeDecoder) Decode(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.ReadNil()
		return
	}
	s := iter.ReadString()
	if iter.Error != nil {
		return
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		iter.ReportError("decode time", "invalid ISO-8601 date "+s)
		return
	}
	*(*time.Time)(ptr) = t
}
