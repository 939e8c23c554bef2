package db

import (
	"github.com/sigreer/devhistory/internal/store"
)

const (
	prefTheme = "theme"
	prefTab   = "active_tab"
)

// LoadPrefs reads preferences, filling unset keys with defaults
func (d *DB) LoadPrefs() (store.Prefs, error) {
	rows, err := d.conn.Query("SELECT key, value FROM preferences")
	if err != nil {
		return store.DefaultPrefs(), d.fail("query preferences", err)
	}
	defer rows.Close()

	var p store.Prefs
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return store.DefaultPrefs(), d.fail("scan preference", err)
		}
		switch key {
		case prefTheme:
			p.Theme = value
		case prefTab:
			p.ActiveTab = value
		}
	}
	if err := rows.Err(); err != nil {
		return store.DefaultPrefs(), d.fail("read preferences", err)
	}
	return p.WithDefaults(), nil
}

// SavePrefs writes both preference keys
func (d *DB) SavePrefs(p store.Prefs) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return d.fail("begin prefs save", err)
	}
	for key, value := range map[string]string{prefTheme: p.Theme, prefTab: p.ActiveTab} {
		_, err := tx.Exec(`
			INSERT INTO preferences (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			tx.Rollback()
			return d.fail("save preference", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return d.fail("commit prefs save", err)
	}
	return nil
}
