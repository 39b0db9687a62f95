package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Supported response formats
const (
	FormatArray    = "array"
	FormatNDJSON   = "ndjson"
	FormatEnvelope = "envelope"
)

// envelopeKeys are tried in order when the upstream wraps its events in an object
var envelopeKeys = []string{"data", "events", "items", "results"}

// Decoder splits an upstream response body into raw event records
type Decoder interface {
	// Name returns the format name
	Name() string

	// Decode returns one raw JSON value per record, in body order
	Decode(body []byte) ([]json.RawMessage, error)
}

// IsKnown reports whether name is a supported format. The empty string selects the default.
func IsKnown(name string) bool {
	switch strings.ToLower(name) {
	case "", FormatArray, FormatNDJSON, FormatEnvelope:
		return true
	}
	return false
}

// ForFormat returns the decoder for a format name, defaulting to a JSON array
func ForFormat(name string) (Decoder, error) {
	switch strings.ToLower(name) {
	case "", FormatArray:
		return Array{}, nil
	case FormatNDJSON:
		return NDJSON{}, nil
	case FormatEnvelope:
		return Envelope{}, nil
	default:
		return nil, fmt.Errorf("unknown response format %q", name)
	}
}

// Array decodes a top-level JSON array
type Array struct{}

func (Array) Name() string { return FormatArray }

func (Array) Decode(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("expected a JSON array")
	}
	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, fmt.Errorf("failed to decode JSON array: %w", err)
	}
	return records, nil
}

// NDJSON decodes newline-delimited JSON, one record per non-blank line
type NDJSON struct{}

func (NDJSON) Name() string { return FormatNDJSON }

func (NDJSON) Decode(body []byte) ([]json.RawMessage, error) {
	var records []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// a bad line is kept so the caller can count it as a dropped record
		records = append(records, append(json.RawMessage(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read NDJSON body: %w", err)
	}
	return records, nil
}

// Envelope decodes an object that carries its records under a well-known key
type Envelope struct{}

func (Envelope) Name() string { return FormatEnvelope }

func (Envelope) Decode(body []byte) ([]json.RawMessage, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("expected a JSON object: %w", err)
	}
	for _, key := range envelopeKeys {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		return Array{}.Decode(raw)
	}
	return nil, fmt.Errorf("no event array found under any of %v", envelopeKeys)
}
