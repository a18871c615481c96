package rpcclient

import (
	"context"
	"time"
)

// Ping checks the daemon is alive and responsive.
func (c *Client) Ping(ctx context.Context) error {
	var out string
	return c.Call(ctx, "ping", nil, &out)
}

// Status fetches the aggregate daemon snapshot.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.Call(ctx, "daemon.status", nil, &out)
	return out, err
}

// Shutdown asks the daemon to terminate gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Call(ctx, "daemon.shutdown", nil, nil)
}

// DaemonLogs fetches the daemon's own combined log, as raw lines.
func (c *Client) DaemonLogs(ctx context.Context) ([]string, error) {
	var out []string
	err := c.Call(ctx, "daemon.logs", nil, &out)
	return out, err
}

// DaemonLogsClear truncates the daemon's own combined log.
func (c *Client) DaemonLogsClear(ctx context.Context) error {
	return c.Call(ctx, "daemon.logs.clear", nil, nil)
}

// ProcessList returns every tracked process's current status.
func (c *Client) ProcessList(ctx context.Context) ([]ProcessStatus, error) {
	var out []ProcessStatus
	err := c.Call(ctx, "process.list", nil, &out)
	return out, err
}

// ProcessStart starts the named configured item.
func (c *Client) ProcessStart(ctx context.Context, name string) error {
	return c.Call(ctx, "process.start", map[string]string{"name": name}, nil)
}

// ProcessStop stops the named process, escalating to the uncatchable
// signal after timeout if force is false and the process ignores the
// graceful signal.
func (c *Client) ProcessStop(ctx context.Context, name string, force bool, timeout time.Duration) error {
	params := map[string]interface{}{"name": name, "force": force}
	if timeout > 0 {
		params["timeoutMs"] = timeout.Milliseconds()
	}
	return c.Call(ctx, "process.stop", params, nil)
}

// ProcessRestart stops then starts the named process.
func (c *Client) ProcessRestart(ctx context.Context, name string, force bool) error {
	return c.Call(ctx, "process.restart", map[string]interface{}{"name": name, "force": force}, nil)
}

// ProcessAdd registers a new pipeline item at runtime.
func (c *Client) ProcessAdd(ctx context.Context, item Item) error {
	return c.Call(ctx, "process.add", item, nil)
}

// ProcessDelete stops (if running) and forgets the named process.
func (c *Client) ProcessDelete(ctx context.Context, name string) error {
	return c.Call(ctx, "process.delete", map[string]string{"name": name}, nil)
}

// ProcessInput writes data to the named process's stdin.
func (c *Client) ProcessInput(ctx context.Context, name string, data []byte) error {
	return c.Call(ctx, "process.input", map[string]string{"name": name, "data": string(data)}, nil)
}

// ProcessInputEnabled reports whether the named process accepts stdin.
func (c *Client) ProcessInputEnabled(ctx context.Context, name string) (bool, error) {
	var out bool
	err := c.Call(ctx, "process.inputEnabled", map[string]string{"name": name}, &out)
	return out, err
}

// LogsQuery fetches log entries for name. since, if non-zero, filters to
// entries at or after that time; limit, if positive and since is zero,
// caps the number of most-recent entries returned.
func (c *Client) LogsQuery(ctx context.Context, name string, since time.Time, limit int) ([]LogEntry, error) {
	params := map[string]interface{}{"name": name}
	if !since.IsZero() {
		params["sinceMs"] = since.UnixMilli()
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var out []LogEntry
	err := c.Call(ctx, "logs.query", params, &out)
	return out, err
}

// LogsClear clears the named process's in-memory log; the on-disk log file
// is left as is.
func (c *Client) LogsClear(ctx context.Context, name string) error {
	return c.Call(ctx, "logs.clear", map[string]string{"name": name}, nil)
}

// ConfigReload re-reads the daemon's configuration file and applies it.
func (c *Client) ConfigReload(ctx context.Context, restartManualServices bool) error {
	return c.Call(ctx, "config.reload", map[string]bool{"restartManualServices": restartManualServices}, nil)
}

// StagesMap returns the step-name → stage-name grouping.
func (c *Client) StagesMap(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := c.Call(ctx, "stages.map", nil, &out)
	return out, err
}

// StageTrigger manually starts a manual-gated item or stage step.
func (c *Client) StageTrigger(ctx context.Context, name string) error {
	return c.Call(ctx, "stage.trigger", map[string]string{"name": name}, nil)
}

// EventEmit hands a custom event to the daemon's Orchestrator, which fires
// any triggers waiting on it. The event is not recorded in the
// events.query history.
func (c *Client) EventEmit(ctx context.Context, name, processName string, data interface{}) error {
	params := map[string]interface{}{"name": name}
	if processName != "" {
		params["processName"] = processName
	}
	if data != nil {
		params["data"] = data
	}
	return c.Call(ctx, "event.emit", params, nil)
}

// EventsQuery returns the bounded recent-event history.
func (c *Client) EventsQuery(ctx context.Context) ([]Event, error) {
	var out []Event
	err := c.Call(ctx, "events.query", nil, &out)
	return out, err
}
