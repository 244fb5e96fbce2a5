package output

import (
	"encoding/json"

	"github.com/drivepacer/drivepacer/internal/core"
)

// JSONFormatter renders a snapshot as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatStats renders a snapshot as JSON.
func (f *JSONFormatter) FormatStats(snap *core.StatsSnapshot) (string, error) {
	if snap == nil {
		return "", nil
	}

	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(snap, "", "  ")
	} else {
		data, err = json.Marshal(snap)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
