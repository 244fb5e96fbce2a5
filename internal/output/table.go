package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/drivepacer/drivepacer/internal/core"
)

// TableFormatter renders a snapshot as an ASCII table.
type TableFormatter struct{}

// FormatStats renders a snapshot as a two-column table, in the shape the
// desktop frontends display it: transferred, speed, ETA, transfer and check
// counts, then errors.
func (f *TableFormatter) FormatStats(snap *core.StatsSnapshot) (string, error) {
	if snap == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Value"})

	if snap.TotalBytes > 0 {
		t.AppendRow(table.Row{"Transferred", fmt.Sprintf("%s / %s", formatBytes(snap.Bytes), formatBytes(snap.TotalBytes))})
	} else {
		t.AppendRow(table.Row{"Transferred", formatBytes(snap.Bytes)})
	}
	t.AppendRow(table.Row{"Speed", formatSpeed(snap.Speed)})
	if snap.ETA != nil && *snap.ETA >= 0 {
		t.AppendRow(table.Row{"ETA", formatETA(*snap.ETA)})
	}
	t.AppendRow(table.Row{"Transfers", snap.Transfers})
	if snap.Checks > 0 {
		t.AppendRow(table.Row{"Checks", snap.Checks})
	}
	t.AppendRow(table.Row{"Errors", snap.Errors})
	if snap.LastError != "" {
		t.AppendRow(table.Row{"Last error", truncate(snap.LastError, 60)})
	}

	for _, ft := range snap.Transferring {
		t.AppendRow(table.Row{"In flight", ft.Name})
	}

	return t.Render(), nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatSpeed(bytesPerSec float64) string {
	return formatBytes(int64(bytesPerSec)) + "/s"
}

func formatETA(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	return d.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
