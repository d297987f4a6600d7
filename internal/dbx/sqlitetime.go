package dbx

import (
	"database/sql"
	"time"
)

// SQLiteTimeFormat is the fixed-width UTC layout used for timestamp columns
// in the SQLite dialect. Fixed width keeps lexicographic comparisons in SQL
// equal to chronological comparisons.
const SQLiteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// FormatSQLiteTime renders t for storage in a SQLite timestamp column.
func FormatSQLiteTime(t time.Time) string {
	return t.UTC().Format(SQLiteTimeFormat)
}

// ParseSQLiteTime parses a timestamp stored by FormatSQLiteTime.
func ParseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(SQLiteTimeFormat, s)
}

// FormatSQLiteNullTime renders an optional timestamp, mapping invalid to
// SQL NULL.
func FormatSQLiteNullTime(t sql.NullTime) any {
	if !t.Valid {
		return nil
	}
	return FormatSQLiteTime(t.Time)
}

// ParseSQLiteNullTime parses an optional timestamp column.
func ParseSQLiteNullTime(s sql.NullString) (sql.NullTime, error) {
	if !s.Valid || s.String == "" {
		return sql.NullTime{}, nil
	}
	t, err := ParseSQLiteTime(s.String)
	if err != nil {
		return sql.NullTime{}, err
	}
	return sql.NullTime{Time: t, Valid: true}, nil
}
