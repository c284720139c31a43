// Package importer reads batch files of staged records.
//
// A batch file holds records received from a remote site. Three formats are
// accepted, chosen by file extension:
//
//	.jsonl         one JSON record per line
//	.yaml, .yml    a YAML document with a "records" list
//	.toml          a TOML document with [[records]] tables
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/sitesync/internal/staging"
	"github.com/mschirtzinger/sitesync/internal/storage"
)

// Format is a batch file encoding.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
)

// ErrUnsupportedFormat is returned for files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported batch file format")

// FormatForPath picks the format from a file extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// IsBatchFile reports whether path has a batch file extension.
func IsBatchFile(path string) bool {
	_, err := FormatForPath(path)
	return err == nil
}

// fileRecord is a record as written in YAML and TOML files, where data is
// a nested mapping rather than a JSON string.
type fileRecord struct {
	TableName    string         `yaml:"table_name" toml:"table_name"`
	RecordID     string         `yaml:"record_id" toml:"record_id"`
	Action       string         `yaml:"action" toml:"action"`
	Data         map[string]any `yaml:"data" toml:"data"`
	SourceSiteID *int32         `yaml:"source_site_id" toml:"source_site_id"`
}

type fileBatch struct {
	Records []fileRecord `yaml:"records" toml:"records"`
}

// ReadFile parses and validates a batch file.
func ReadFile(path string) ([]*staging.Record, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path comes from the inbox or the CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	records, err := Read(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// Read parses and validates records from r.
func Read(r io.Reader, format Format) ([]*staging.Record, error) {
	var (
		records []*staging.Record
		err     error
	)
	switch format {
	case FormatJSONL:
		records, err = readJSONL(r)
	case FormatYAML:
		var batch fileBatch
		if err := yaml.NewDecoder(r).Decode(&batch); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		records, err = fromFile(batch.Records)
	case FormatTOML:
		var batch fileBatch
		if _, err := toml.NewDecoder(r).Decode(&batch); err != nil {
			return nil, fmt.Errorf("invalid TOML: %w", err)
		}
		records, err = fromFile(batch.Records)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
	}
	return records, nil
}

func readJSONL(r io.Reader) ([]*staging.Record, error) {
	var records []*staging.Record
	decoder := json.NewDecoder(r)
	for line := 1; ; line++ {
		var rec staging.Record
		if err := decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", line, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

func fromFile(in []fileRecord) ([]*staging.Record, error) {
	out := make([]*staging.Record, 0, len(in))
	for i, fr := range in {
		data := []byte("{}")
		if fr.Data != nil {
			var err error
			if data, err = json.Marshal(fr.Data); err != nil {
				return nil, fmt.Errorf("record %d: failed to encode data: %w", i+1, err)
			}
		}
		out = append(out, &staging.Record{
			TableName:    fr.TableName,
			RecordID:     fr.RecordID,
			Action:       staging.Action(fr.Action),
			Data:         data,
			SourceSiteID: fr.SourceSiteID,
		})
	}
	return out, nil
}

// Stager is the staging side of an import.
type Stager interface {
	Stage(ctx context.Context, q storage.Querier, records ...*staging.Record) error
}

// ImportFile reads a batch file and stages all of its records in one
// transaction. A file that fails to parse stages nothing.
func ImportFile(ctx context.Context, conn *storage.Conn, store Stager, path string) (int, error) {
	records, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	err = conn.Transaction(ctx, func(tx *storage.Conn) error {
		return store.Stage(ctx, tx, records...)
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}
