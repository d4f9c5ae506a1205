// Package caster converts values to and from their JSON wire form.
package caster

import "encoding/json"

type Caster[T any] interface {
	From([]byte) (T, error)
	To(T) ([]byte, error)
}

type JSONCaster[T any] struct{}

func (jc JSONCaster[T]) From(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

func (jc JSONCaster[T]) To(v T) ([]byte, error) {
	return json.Marshal(v)
}

// StringCaster adapts a Caster to string payloads, as used by text based
// transports such as redis channels.
type StringCaster[T any] struct {
	Caster[T]
}

func (sc StringCaster[T]) FromString(data string) (T, error) {
	return sc.From([]byte(data))
}

func (sc StringCaster[T]) ToString(v T) (string, error) {
	data, err := sc.To(v)
	return string(data), err
}
