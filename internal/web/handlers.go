package web

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/memtriage/memtriage/internal/artifacts"
	"github.com/memtriage/memtriage/internal/launch"
)

// activityLimit caps /api/recent-activity.
const activityLimit = 10

// maxInlineBytes bounds files rendered in the browser; larger files download.
const maxInlineBytes = 4 << 20

var inlineExtensions = map[string]bool{
	".txt":  true,
	".log":  true,
	".json": true,
	".csv":  true,
	".html": true,
}

type runResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

type runStatus struct {
	ID      string        `json:"id"`
	Tool    string        `json:"tool"`
	Args    []string      `json:"args"`
	Started time.Time     `json:"started"`
	Status  launch.Status `json:"status"`
	Error   string        `json:"error,omitempty"`
}

// Activity is one item of the recent activity feed.
type Activity struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	at time.Time
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Store.Stats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "index.html", map[string]any{"Title": "memtriage", "Stats": st})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Store.Stats()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// targetOf reads the target field from a form or JSON body.
func targetOf(r *http.Request) string {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			Target string `json:"target"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			return ""
		}
		return strings.TrimSpace(body.Target)
	}
	return strings.TrimSpace(r.FormValue("target"))
}

// RunArgs returns the subcommand arguments for a launched run of tool.
func RunArgs(base []string, tool artifacts.Tool, target string) []string {
	args := append([]string(nil), base...)
	switch tool {
	case artifacts.Volatility:
		return append(args, "vol", "run", "--file="+target)
	default:
		return append(args, "yara", "scan", "--", target)
	}
}

func (s *Server) handleRun(tool artifacts.Tool) http.HandlerFunc {
	label := map[artifacts.Tool]string{artifacts.Volatility: "Volatility", artifacts.Yara: "YARA scan"}[tool]
	return func(w http.ResponseWriter, r *http.Request) {
		target := targetOf(r)
		if target == "" {
			writeJSON(w, http.StatusBadRequest, runResponse{Status: "error", Message: "missing target"})
			return
		}
		h, err := s.opts.Launcher.Start(s.opts.RunContext, string(tool), RunArgs(s.opts.BaseArgs, tool, target)...)
		if err != nil {
			s.logger.Error().Err(err).Str("tool", string(tool)).Msg("Launch failed")
			writeJSON(w, http.StatusInternalServerError, runResponse{Status: "error", Message: "Failed to launch " + label + ": " + err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, runResponse{Status: "success", Message: label + " launched successfully", ID: h.ID})
	}
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	h, ok := s.opts.Launcher.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
		return
	}
	st := runStatus{ID: h.ID, Tool: h.Tool, Args: h.Args, Started: h.Started, Status: h.Status()}
	if st.Status == launch.StatusFailed {
		if err := h.Err(); err != nil {
			st.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFiles(tool artifacts.Tool, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := s.opts.Store.List(tool)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.render(w, "files.html", map[string]any{"Title": title, "Tool": string(tool), "Files": files})
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	tool, err := artifacts.ParseTool(r.PathValue("tool"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	name := r.PathValue("filename")
	f, fi, err := s.opts.Store.Open(tool, name)
	switch {
	case errors.Is(err, artifacts.ErrInvalidName):
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return
	case errors.Is(err, artifacts.ErrNotFound):
		http.Error(w, "File not found", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	if !inlineExtensions[strings.ToLower(filepath.Ext(name))] || fi.Size() > maxInlineBytes {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		http.ServeContent(w, r, name, fi.ModTime(), f)
		return
	}

	content, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "Error reading file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "view.html", map[string]any{"Title": name, "Body": Highlight(name, string(content))})
}

func (s *Server) handleToolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		string(artifacts.Volatility): string(s.opts.Launcher.StatusOf(string(artifacts.Volatility))),
		string(artifacts.Yara):       string(s.opts.Launcher.StatusOf(string(artifacts.Yara))),
	})
}

func (s *Server) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	acts, err := s.recentActivity()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

// recentActivity merges scan log entries with written plugin reports,
// newest first.
func (s *Server) recentActivity() ([]Activity, error) {
	acts := []Activity{}
	if s.opts.Log != nil {
		entries, err := s.opts.Log.LoadHistory(activityLimit)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		for _, e := range entries {
			a := Activity{Action: "Scanned " + e.Path, Type: "success", at: e.Timestamp}
			if e.Detected() {
				a.Type = "danger"
				a.Action = "Malware detected in " + e.Path
			}
			acts = append(acts, a)
		}
	}
	reports, err := s.opts.Store.List(artifacts.Volatility)
	if err != nil {
		return nil, err
	}
	for _, f := range reports {
		if filepath.Ext(f.Name) != ".csv" {
			continue
		}
		acts = append(acts, Activity{Action: "Plugin report " + f.Name, Type: "info", at: f.ModTime})
	}

	sort.SliceStable(acts, func(i, j int) bool { return acts[i].at.After(acts[j].at) })
	if len(acts) > activityLimit {
		acts = acts[:activityLimit]
	}
	for i := range acts {
		acts[i].Timestamp = acts[i].at.Local().Format("2006-01-02 15:04:05")
	}
	return acts, nil
}
