package rpcclient

// DaemonStatus mirrors the daemon.status result (spec §4.9). Duplicated
// here rather than imported from the daemon's internal packages, the same
// way loykin-provisr's pkg/client/types.go keeps its own ProcessStatus
// independent of the server's internal representation.
type DaemonStatus struct {
	ProjectName  string `json:"projectName"`
	UptimeMs     int64  `json:"uptimeMs"`
	ProcessCount int    `json:"processCount"`
	RunningCount int    `json:"runningCount"`
}

// ProcessStatus mirrors one entry of the process.list result.
type ProcessStatus struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	State        string `json:"state"`
	PID          int    `json:"pid,omitempty"`
	UptimeMs     int64  `json:"uptimeMs"`
	RestartCount int    `json:"restartCount"`
	ExitCode     *int   `json:"exitCode,omitempty"`
	Signal       string `json:"signal,omitempty"`
}

// LogEntry mirrors one entry of the logs.query result.
type LogEntry struct {
	TimestampMs int64  `json:"timestamp"`
	Stream      string `json:"stream"`
	Data        string `json:"data"`
	ProcessName string `json:"processName"`
}

// Event mirrors one entry of the events.query result.
type Event struct {
	Name        string      `json:"name"`
	ProcessName string      `json:"processName"`
	Type        string      `json:"type"`
	Data        interface{} `json:"data,omitempty"`
	TimestampMs int64       `json:"timestamp"`
}

// Item is the wire shape accepted by process.add: a pipeline-entry item
// (spec §6's item schema), independent of the daemon's internal
// pipeline.Item so this package has no dependency on daemon internals.
type Item struct {
	Name                 string            `json:"name"`
	Command              string            `json:"command"`
	Type                 string            `json:"type"`
	Cwd                  string            `json:"cwd,omitempty"`
	Env                  map[string]string `json:"env,omitempty"`
	TriggerOn            []string          `json:"trigger_on,omitempty"`
	ContinueOnFailure    bool              `json:"continue_on_failure,omitempty"`
	Manual               bool              `json:"manual,omitempty"`
	Restart              string            `json:"restart,omitempty"`
	EnableEventTemplates bool              `json:"enable_event_templates,omitempty"`
}
