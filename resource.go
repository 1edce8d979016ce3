package fetchup

import (
	"net/http"
	"reflect"
)

// HTTP methods accepted by Descriptor.Method.
const (
	MethodGet    = http.MethodGet
	MethodPost   = http.MethodPost
	MethodPut    = http.MethodPut
	MethodPatch  = http.MethodPatch
	MethodDelete = http.MethodDelete
)

// Descriptor describes one REST call before it is turned into a wire request.
// Path is resolved against the client's base URL. Query values are
// percent-encoded individually. Configure, when set, runs last and may change
// any field of the built request.
type Descriptor struct {
	Method    string
	Path      string
	Query     map[string]string
	Header    map[string]string
	Body      []byte
	Configure func(*http.Request)
}

// Describe returns the descriptor itself so a bare Descriptor satisfies Describer.
func (d Descriptor) Describe() Descriptor {
	return d
}

// Describer is anything that can produce a Descriptor. Resource[T] embeds a
// Descriptor and so satisfies it.
type Describer interface {
	Describe() Descriptor
}

// Decoder turns a successful response body into a typed value.
type Decoder[T any] func(data []byte) (T, error)

// Decodable is implemented by response types that decode themselves.
// DecodeResource uses it ahead of the JSON default.
type Decodable interface {
	Decode(data []byte) error
}

// Resource pairs a Descriptor with the decoder for its response type.
// A nil Decode selects DecodeResource.
type Resource[T any] struct {
	Descriptor
	Decode Decoder[T]
}

func (r Resource[T]) decode(data []byte) (T, error) {
	if r.Decode != nil {
		return r.Decode(data)
	}
	return DecodeResource[T](data)
}

// DecodeResource is the default decoder: the Decodable implementation of *T,
// or of T itself when T is a pointer type, and JSON otherwise.
func DecodeResource[T any](data []byte) (T, error) {
	var v T
	if d, ok := any(&v).(Decodable); ok {
		err := d.Decode(data)
		return v, err
	}
	if _, ok := any(v).(Decodable); ok {
		if typ := reflect.TypeOf(v); typ.Kind() == reflect.Pointer {
			v = reflect.New(typ.Elem()).Interface().(T)
			err := any(v).(Decodable).Decode(data)
			return v, err
		}
	}
	err := DecodeJSON(data, &v)
	return v, err
}

// Bytes is a Decoder that hands back the raw body.
func Bytes(data []byte) ([]byte, error) {
	return data, nil
}

// String is a Decoder that hands back the body as a string.
func String(data []byte) (string, error) {
	return string(data), nil
}
