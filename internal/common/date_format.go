package common

import (
	"fmt"
	"time"
)

// Standard date format constants
const (
	// ISO8601Date is used for calendar split dates and cache keys
	ISO8601Date = "2006-01-02"

	// RunDate is the hour-resolution timestamp the model server accepts
	RunDate = "2006-01-02 15:00"

	// CatalogDate is the label shown for a dataset in the catalog
	CatalogDate = "2006-01-02 15:00 UTC"

	// FolderDate is the timestamp prefix of a dataset folder name
	FolderDate = "20060102_15"
)

// ParseISO8601 parses a date string in ISO 8601 format (YYYY-MM-DD)
func ParseISO8601(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	return time.Parse(ISO8601Date, dateStr)
}

// FormatISO8601 formats a time.Time to ISO 8601 date string (YYYY-MM-DD)
func FormatISO8601(t time.Time) string {
	return t.Format(ISO8601Date)
}

// ParseRunDate parses a "YYYY-MM-DD HH:00" timestamp as UTC
func ParseRunDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	return time.ParseInLocation(RunDate, s, time.UTC)
}

// FormatRunDate truncates t to the hour and formats it for a run request
func FormatRunDate(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(RunDate)
}

// FormatCatalog formats a dataset timestamp for the catalog list
func FormatCatalog(t time.Time) string {
	return t.UTC().Format(CatalogDate)
}

// FormatFolder formats the folder-name prefix the server derives from a run date
func FormatFolder(t time.Time) string {
	return t.UTC().Format(FolderDate)
}

// ValidateRunDate checks if a string is a valid run timestamp
func ValidateRunDate(s string) bool {
	_, err := ParseRunDate(s)
	return err == nil
}

// ValidateISO8601 checks if a date string is in valid ISO 8601 format
func ValidateISO8601(dateStr string) bool {
	_, err := ParseISO8601(dateStr)
	return err == nil
}
