package mqtingestor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parsedPayload is resolved once per message: a JSON object, a bare number,
// or an invalid body.
type parsedPayload interface {
	isParsedPayload()
}

type jsonPayload struct {
	fields map[string]interface{}
}

type bareNumber struct {
	value float64
}

type invalidPayload struct {
	reason error
}

func (jsonPayload) isParsedPayload()    {}
func (bareNumber) isParsedPayload()     {}
func (invalidPayload) isParsedPayload() {}

// parsePayload classifies raw. Objects decode with json.Number so numeric
// precision survives until coercion. Anything else is read as a bare number,
// with surrounding whitespace and JSON string quotes removed.
func parsePayload(raw []byte) parsedPayload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return invalidPayload{reason: fmt.Errorf("empty payload")}
	}

	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var fields map[string]interface{}
		if err := dec.Decode(&fields); err != nil {
			return invalidPayload{reason: fmt.Errorf("invalid JSON object: %w", err)}
		}
		if dec.More() {
			return invalidPayload{reason: fmt.Errorf("trailing data after JSON object")}
		}
		return jsonPayload{fields: fields}
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return invalidPayload{reason: fmt.Errorf("invalid JSON string: %w", err)}
		}
		text = s
	}

	v, err := parseNumber(text)
	if err != nil {
		return invalidPayload{reason: err}
	}
	return bareNumber{value: v}
}

// parseNumber parses a finite float64
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", truncate(s, 64))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number: %q", s)
	}
	return v, nil
}

// numericField coerces a JSON number or numeric string
func numericField(v interface{}) (float64, error) {
	switch val := v.(type) {
	case json.Number:
		return parseNumber(val.String())
	case string:
		return parseNumber(val)
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("value has unsupported type %T", v)
	}
}

// stringField reads strings and numbers as text. Other types yield "".
func stringField(fields map[string]interface{}, key string) string {
	switch val := fields[key].(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	}
	return ""
}

// truncate shortens s for log output
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
