package db

import (
	"database/sql"
	"fmt"

	"github.com/sigreer/devhistory/internal/device"
)

const eventColumns = `id, timestamp, kind, name, vid_pid, manufacturer, class, device_id`

// LoadEvents returns the full history in append order
func (d *DB) LoadEvents() ([]device.Event, error) {
	rows, err := d.conn.Query(`SELECT ` + eventColumns + ` FROM device_events ORDER BY seq`)
	if err != nil {
		return nil, d.fail("query events", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, d.fail("read events", err)
	}
	return events, nil
}

// AppendEvents inserts events in order within one transaction
func (d *DB) AppendEvents(events []device.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return d.fail("begin event append", err)
	}

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO device_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return d.fail("prepare event insert", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		_, err := stmt.Exec(
			ev.ID, formatTime(ev.Timestamp), ev.Kind, ev.Name,
			nullString(ev.VidPid), nullString(ev.Manufacturer), ev.Class, ev.DeviceID,
		)
		if err != nil {
			tx.Rollback()
			return d.fail("insert event", fmt.Errorf("%s: %w", ev.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return d.fail("commit event append", err)
	}
	return nil
}

// ClearEvents deletes the whole history
func (d *DB) ClearEvents() error {
	if _, err := d.conn.Exec("DELETE FROM device_events"); err != nil {
		return d.fail("clear events", err)
	}
	return nil
}

// GetDeviceEvents returns the newest events for one identity, newest first.
// limit <= 0 returns all of them.
func (d *DB) GetDeviceEvents(deviceID string, limit int) ([]device.Event, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := d.conn.Query(`
		SELECT `+eventColumns+`
		FROM device_events
		WHERE device_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, d.fail("query device events", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, d.fail("read device events", err)
	}
	return events, nil
}

func scanEvents(rows *sql.Rows) ([]device.Event, error) {
	var events []device.Event
	for rows.Next() {
		var ev device.Event
		var ts string
		var vidPid, manufacturer sql.NullString

		err := rows.Scan(
			&ev.ID, &ts, &ev.Kind, &ev.Name,
			&vidPid, &manufacturer, &ev.Class, &ev.DeviceID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("timestamp for event %s: %w", ev.ID, err)
		}
		ev.VidPid = stringPtr(vidPid)
		ev.Manufacturer = stringPtr(manufacturer)

		events = append(events, ev)
	}

	return events, rows.Err()
}
