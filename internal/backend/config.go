package backend

import (
	"fmt"

	"coffer/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	journalType := JournalType(appConfig.JournalBackend)
	if !journalType.IsValid() {
		return Config{}, fmt.Errorf("invalid journal backend in config: %s", appConfig.JournalBackend)
	}

	exporterType := ExporterType(appConfig.ExportBackend)
	if !exporterType.IsValid() {
		return Config{}, fmt.Errorf("invalid export backend in config: %s", appConfig.ExportBackend)
	}

	return Config{
		Journal:      journalType,
		SQLiteDBPath: appConfig.SQLiteDBPath,

		Exporter:      exporterType,
		SpreadsheetID: appConfig.ExportSpreadsheetID,
		SheetName:     appConfig.ExportSheetName,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Journal.IsValid() {
		return fmt.Errorf("invalid journal type: %s", c.Journal)
	}
	if !c.Exporter.IsValid() {
		return fmt.Errorf("invalid exporter type: %s", c.Exporter)
	}

	if c.Journal == SQLiteJournal && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite journal")
	}

	if c.Exporter == SheetsExporter {
		if c.SpreadsheetID == "" {
			return fmt.Errorf("spreadsheet ID is required for gsheet exporter")
		}
		if c.SheetName == "" {
			return fmt.Errorf("sheet name is required for gsheet exporter")
		}
	}

	return nil
}
