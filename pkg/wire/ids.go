package wire

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tdewolff/minify/v2"
	mjson "github.com/tdewolff/minify/v2/json"
)

const jsonMediaType = "application/json"

var minifier = func() *minify.M {
	m := minify.New()
	m.AddFunc(jsonMediaType, mjson.Minify)
	return m
}()

// NewCommandID returns an opaque unique command identifier.
func NewCommandID() string {
	return uuid.NewString()
}

// Compact strips insignificant whitespace from a JSON payload so cached
// payloads compare and log consistently. Invalid JSON is returned unchanged.
func Compact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	out, err := minifier.Bytes(jsonMediaType, raw)
	if err != nil || !json.Valid(out) {
		return raw
	}
	return bytes.Clone(out)
}
