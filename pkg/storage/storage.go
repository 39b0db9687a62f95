package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mosajjal/authhec/pkg/models"
)

// Backend archives events outside the indexing backend
type Backend interface {
	// Store saves a batch of events collected for integration
	Store(ctx context.Context, integration string, events []models.AuthEvent) error

	// Close cleans up resources
	Close() error
}

// StorageConfig holds common storage configuration
type StorageConfig struct {
	Provider        string // s3
	URL             string
	Region          string
	CompressionType string // gzip, none
}

// EncodeNDJSON writes one JSON object per line, gzip compressed unless compression is "none"
func EncodeNDJSON(events []models.AuthEvent, compression string) ([]byte, error) {
	var buf bytes.Buffer
	if compression == "none" {
		if err := writeLines(&buf, events); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if err := writeLines(gz, events); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

func writeLines(w io.Writer, events []models.AuthEvent) error {
	enc := json.NewEncoder(w)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}
