package controlserver

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/clier/clier/internal/clierr"
	"github.com/clier/clier/internal/pipeline"
)

// route dispatches one decoded request to the matching Supervisor
// operation (spec §4.9's method list). Unknown methods map to
// clierr.CodeMethodUnknown via the KindProtocol/ErrMethodUnknown pair.
func (s *Server) route(req *Request) (interface{}, error) {
	switch req.Method {
	case "ping":
		return "pong", nil

	case "daemon.status":
		return s.supervisor.Status()

	case "daemon.shutdown":
		if s.opts.OnShutdownRequest != nil {
			go s.opts.OnShutdownRequest()
		} else {
			go func() { _ = s.supervisor.Stop() }()
		}
		return map[string]bool{"ok": true}, nil

	case "daemon.logs":
		return s.readDaemonLog("combined.log")

	case "daemon.logs.clear":
		return nil, s.truncateDaemonLog("combined.log")

	case "process.list":
		return s.supervisor.ListProcesses()

	case "process.start":
		var p nameParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.supervisor.StartProcess(p.Name)

	case "process.stop":
		var p stopParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		timeout, err := resolveStopTimeout(p)
		if err != nil {
			return nil, clierr.New(clierr.KindProtocol, "process.stop", err)
		}
		return nil, s.supervisor.StopProcess(p.Name, p.Force, timeout)

	case "process.restart":
		var p restartParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.supervisor.RestartProcess(p.Name, p.Force)

	case "process.add":
		var it itemParams
		if err := decodeParams(req.Params, &it); err != nil {
			return nil, err
		}
		return nil, s.supervisor.AddProcess(it)

	case "process.delete":
		var p nameParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.supervisor.DeleteProcess(p.Name)

	case "process.input":
		var p inputParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.supervisor.WriteInput(p.Name, []byte(p.Data))

	case "process.inputEnabled":
		var p nameParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.supervisor.HasInputEnabled(p.Name)

	case "logs.query":
		var p logsQueryParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		sinceMs, err := resolveSinceMs(p)
		if err != nil {
			return nil, clierr.New(clierr.KindProtocol, "logs.query", err)
		}
		return s.supervisor.QueryLogs(p.Name, sinceMs, p.Limit)

	case "logs.clear":
		var p logsClearParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.supervisor.ClearLogs(p.Name)

	case "config.reload", "config.clearReload":
		var p reloadParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.reloadConfig(p.RestartManualServices)

	case "stages.map":
		return s.supervisor.StagesMap()

	case "stage.trigger":
		var p nameParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.supervisor.TriggerStage(p.Name)

	case "event.emit":
		var p emitParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.supervisor.EmitEvent(pipeline.Event{
			Name: p.Name, ProcessName: p.ProcessName, Type: pipeline.EventCustom,
			Data: p.Data, TimestampMs: pipeline.NowMs(),
		})

	case "events.query":
		return s.supervisor.QueryEvents()

	default:
		return nil, clierr.New(clierr.KindProtocol, req.Method, clierr.ErrMethodUnknown)
	}
}

// readDaemonLog returns the daemon's own combined/error log as a list of
// raw lines. Unlike per-process logs, the daemon's own log file is
// written directly by the slog fanout handler (internal/logger), not
// through RingLog.Add, so it is read back as text rather than structured
// LogEntry values.
func (s *Server) readDaemonLog(filename string) ([]string, error) {
	f, err := os.Open(filepath.Join(s.opts.LogsDir, filename))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

func (s *Server) truncateDaemonLog(filename string) error {
	path := filepath.Join(s.opts.LogsDir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.Truncate(path, 0)
}
