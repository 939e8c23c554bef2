package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sigreer/devhistory/internal/device"
)

// LoadLedger returns every known device keyed by identity
func (d *DB) LoadLedger() (map[string]device.KnownDevice, error) {
	rows, err := d.conn.Query(`
		SELECT device_id, name, vid_pid, class, manufacturer, description,
			first_seen, last_seen, times_seen, currently_connected,
			nickname, storage_info, storage_stale
		FROM known_devices
	`)
	if err != nil {
		return map[string]device.KnownDevice{}, d.fail("query known devices", err)
	}
	defer rows.Close()

	out := make(map[string]device.KnownDevice)
	for rows.Next() {
		kd, err := scanDevice(rows)
		if err != nil {
			return map[string]device.KnownDevice{}, d.fail("scan known device", err)
		}
		out[kd.DeviceID] = kd
	}
	if err := rows.Err(); err != nil {
		return map[string]device.KnownDevice{}, d.fail("read known devices", err)
	}
	return out, nil
}

// SaveLedger replaces the stored ledger in one transaction, so forgotten
// identities disappear and readers never see a half-written set.
func (d *DB) SaveLedger(devices map[string]device.KnownDevice) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return d.fail("begin ledger save", err)
	}

	if _, err := tx.Exec("DELETE FROM known_devices"); err != nil {
		tx.Rollback()
		return d.fail("clear known devices", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO known_devices (
			device_id, name, vid_pid, class, manufacturer, description,
			first_seen, last_seen, times_seen, currently_connected,
			nickname, storage_info, storage_stale
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return d.fail("prepare ledger insert", err)
	}
	defer stmt.Close()

	for id, kd := range devices {
		var storage sql.NullString
		if kd.StorageInfo != nil {
			b, err := json.Marshal(kd.StorageInfo)
			if err != nil {
				tx.Rollback()
				return d.fail("encode storage info", fmt.Errorf("%s: %w", id, err))
			}
			storage = sql.NullString{String: string(b), Valid: true}
		}

		_, err := stmt.Exec(
			id, kd.Name, kd.VidPid, kd.Class, kd.Manufacturer, kd.Description,
			formatTime(kd.FirstSeen), formatTime(kd.LastSeen), kd.TimesSeen, boolInt(kd.CurrentlyConnected),
			nullString(kd.Nickname), storage, boolInt(kd.StorageStale),
		)
		if err != nil {
			tx.Rollback()
			return d.fail("insert known device", fmt.Errorf("%s: %w", id, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return d.fail("commit ledger save", err)
	}
	return nil
}

func scanDevice(rows *sql.Rows) (device.KnownDevice, error) {
	var kd device.KnownDevice
	var firstSeen, lastSeen string
	var connected, stale int
	var nickname, storage sql.NullString

	err := rows.Scan(
		&kd.DeviceID, &kd.Name, &kd.VidPid, &kd.Class, &kd.Manufacturer, &kd.Description,
		&firstSeen, &lastSeen, &kd.TimesSeen, &connected,
		&nickname, &storage, &stale,
	)
	if err != nil {
		return kd, err
	}

	if kd.FirstSeen, err = parseTime(firstSeen); err != nil {
		return kd, fmt.Errorf("first_seen for %s: %w", kd.DeviceID, err)
	}
	if kd.LastSeen, err = parseTime(lastSeen); err != nil {
		return kd, fmt.Errorf("last_seen for %s: %w", kd.DeviceID, err)
	}
	kd.CurrentlyConnected = connected != 0
	kd.StorageStale = stale != 0
	kd.Nickname = stringPtr(nickname)

	if storage.Valid && storage.String != "" {
		var info device.StorageInfo
		if err := json.Unmarshal([]byte(storage.String), &info); err != nil {
			return kd, fmt.Errorf("storage_info for %s: %w", kd.DeviceID, err)
		}
		kd.StorageInfo = &info
	}

	return kd, nil
}
