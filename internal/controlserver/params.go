package controlserver

import (
	"fmt"
	"strconv"
	"time"

	"github.com/clier/clier/internal/pipeline"
)

type nameParams struct {
	Name string `json:"name"`
}

type stopParams struct {
	Name      string `json:"name"`
	Force     bool   `json:"force,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

type restartParams struct {
	Name  string `json:"name"`
	Force bool   `json:"force,omitempty"`
}

type inputParams struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type logsQueryParams struct {
	Name    string `json:"name"`
	Since   string `json:"since,omitempty"`
	SinceMs int64  `json:"sinceMs,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type logsClearParams struct {
	Name string `json:"name"`
}

type reloadParams struct {
	RestartManualServices bool `json:"restartManualServices,omitempty"`
}

type emitParams struct {
	Name        string      `json:"name"`
	ProcessName string      `json:"processName,omitempty"`
	Data        interface{} `json:"data,omitempty"`
}

// durationUnits implements spec §6's "duration string grammar": one or
// more digits followed by exactly one of s/m/h/d, no other units.
var durationUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	unit, ok := durationUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("invalid duration unit in %q", s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n) * unit, nil
}

// itemParams decodes process.add's request body directly into a
// pipeline.Item; the wire shape matches a non-stage pipeline entry.
type itemParams = pipeline.Item
