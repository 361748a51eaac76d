package backend

import (
	"context"

	"coffer/internal/export"
	"coffer/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// JournalResult contains the journal instance and optional cleanup function
type JournalResult struct {
	Journal storage.Journal
	Cleanup CleanupFunc
}

// ExporterResult contains the exporter instance and optional cleanup function
type ExporterResult struct {
	Exporter export.Exporter
	Cleanup  CleanupFunc
}

// Factory creates journals and exporters based on configuration
type Factory interface {
	// CreateJournal creates a journal instance based on the provided config
	CreateJournal(config Config) (*JournalResult, error)

	// CreateExporter creates an exporter instance based on the provided config
	CreateExporter(ctx context.Context, config Config) (*ExporterResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	// Journal selection
	Journal      JournalType
	SQLiteDBPath string

	// Exporter selection
	Exporter      ExporterType
	SpreadsheetID string
	SheetName     string
}

// JournalType represents the journal implementation
type JournalType string

const (
	SQLiteJournal JournalType = "sqlite"
	MemoryJournal JournalType = "memory"
)

// String implements fmt.Stringer
func (jt JournalType) String() string {
	return string(jt)
}

// IsValid returns true if the journal type is valid
func (jt JournalType) IsValid() bool {
	switch jt {
	case SQLiteJournal, MemoryJournal:
		return true
	default:
		return false
	}
}

// ExporterType represents the exporter implementation
type ExporterType string

const (
	SheetsExporter ExporterType = "gsheet"
	MemoryExporter ExporterType = "memory"
)

// String implements fmt.Stringer
func (et ExporterType) String() string {
	return string(et)
}

// IsValid returns true if the exporter type is valid
func (et ExporterType) IsValid() bool {
	switch et {
	case SheetsExporter, MemoryExporter:
		return true
	default:
		return false
	}
}
