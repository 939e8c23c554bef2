package eventlog

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/sigreer/devhistory/internal/device"
)

// CSVHeader is the column order of WriteCSV
var CSVHeader = []string{"timestamp", "kind", "name", "vid_pid", "manufacturer", "class", "device_id"}

// WriteCSV writes events oldest first with a header row. Timestamps are
// RFC 3339 in UTC; absent optional fields are empty cells.
func WriteCSV(w io.Writer, events []device.Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, e := range events {
		rec := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Kind,
			e.Name,
			device.Deref(e.VidPid),
			device.Deref(e.Manufacturer),
			e.Class,
			e.DeviceID,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
