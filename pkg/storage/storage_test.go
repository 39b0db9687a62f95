package storage

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosajjal/authhec/pkg/models"
)

func sampleEvents() []models.AuthEvent {
	return []models.AuthEvent{
		{Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), EventType: models.EventLoginSuccess, UserID: "u1"},
		{Timestamp: time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC), EventType: models.EventLoginFailure, UserID: "u2", FailureReason: "locked"},
	}
}

func decodeLines(t *testing.T, data []byte) []models.AuthEvent {
	t.Helper()
	var events []models.AuthEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var event models.AuthEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestEncodeNDJSON_Gzip(t *testing.T) {
	data, err := EncodeNDJSON(sampleEvents(), "gzip")
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	var plain bytes.Buffer
	_, err = plain.ReadFrom(gz)
	require.NoError(t, err)

	events := decodeLines(t, plain.Bytes())
	require.Len(t, events, 2)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "locked", events[1].FailureReason)
}

func TestEncodeNDJSON_None(t *testing.T) {
	data, err := EncodeNDJSON(sampleEvents(), "none")
	require.NoError(t, err)

	events := decodeLines(t, data)
	require.Len(t, events, 2)
	assert.Equal(t, "u2", events[1].UserID)
}
