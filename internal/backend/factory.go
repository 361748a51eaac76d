package backend

import (
	"context"
	"fmt"
	"log/slog"

	"coffer/internal/export/gsheet"
	"coffer/internal/export/memory"
	"coffer/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateJournal implements Factory.CreateJournal
func (f *DefaultFactory) CreateJournal(config Config) (*JournalResult, error) {
	switch config.Journal {
	case SQLiteJournal:
		journal, err := storage.NewSQLiteJournal(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite journal: %w", err)
		}

		f.logger.Info("Initialized SQLite journal", "db_path", config.SQLiteDBPath)

		return &JournalResult{
			Journal: journal,
			Cleanup: journal.Close,
		}, nil

	case MemoryJournal:
		journal := storage.NewMemoryJournal()

		f.logger.Info("Initialized memory journal")

		return &JournalResult{
			Journal: journal,
			Cleanup: journal.Close,
		}, nil

	default:
		return nil, fmt.Errorf("invalid journal type: %s", config.Journal)
	}
}

// CreateExporter implements Factory.CreateExporter
func (f *DefaultFactory) CreateExporter(ctx context.Context, config Config) (*ExporterResult, error) {
	switch config.Exporter {
	case SheetsExporter:
		cli, err := gsheet.New(ctx, config.SpreadsheetID, config.SheetName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets exporter: %w", err)
		}

		f.logger.Info("Initialized Google Sheets exporter",
			"spreadsheet_id", config.SpreadsheetID,
			"sheet_name", config.SheetName)

		return &ExporterResult{
			Exporter: cli,
			Cleanup:  nil, // No cleanup needed for sheets exporter
		}, nil

	case MemoryExporter:
		store := memory.New()

		f.logger.Info("Initialized memory exporter")

		return &ExporterResult{
			Exporter: store,
			Cleanup:  nil, // No cleanup needed for memory exporter
		}, nil

	default:
		return nil, fmt.Errorf("invalid exporter type: %s", config.Exporter)
	}
}
