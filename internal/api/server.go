// Package api implements the HTTP JSON control surface of the gotgen
// daemon. Every endpoint maps one-to-one onto a control adapter
// command; the server holds no state of its own.
package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/dantte-lp/gotgen/internal/engine"
	"github.com/dantte-lp/gotgen/internal/workloads"
)

// maxBodyBytes bounds control request bodies.
const maxBodyBytes = 1 << 20

// Server translates HTTP requests into control adapter commands.
type Server struct {
	core  *engine.Core
	bench *engine.Bench
	wl    *workloads.Manager
	log   *slog.Logger
}

// New creates the control server. bench and wl may be nil; their
// endpoints then answer 404.
func New(core *engine.Core, bench *engine.Bench, wl *workloads.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		core:  core,
		bench: bench,
		wl:    wl,
		log:   logger.With(slog.String("component", "api")),
	}
}

// Handler builds the full route table wrapped in recovery and logging
// middleware. The handler speaks h2c so gRPC-style clients can reuse
// the same port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/interfaces", s.handleListPorts)

	mux.HandleFunc("GET /api/traffic-profiles", s.handleListProfiles)
	mux.HandleFunc("POST /api/traffic-profiles", s.handleCreateProfile)
	mux.HandleFunc("PUT /api/traffic-profiles/{name}", s.handleUpdateProfile)
	mux.HandleFunc("DELETE /api/traffic-profiles/{name}", s.handleDeleteProfile)
	mux.HandleFunc("POST /api/traffic-profiles/{name}/enable", s.handleEnableProfile)
	mux.HandleFunc("POST /api/traffic-profiles/{name}/disable", s.handleDisableProfile)

	mux.HandleFunc("POST /api/traffic/start", s.handleStartAll)
	mux.HandleFunc("POST /api/traffic/stop", s.handleStopAll)
	mux.HandleFunc("GET /api/traffic/stats", s.handleStats)
	mux.HandleFunc("POST /api/traffic/stats/reset", s.handleStatsReset)
	mux.HandleFunc("GET /api/traffic/stats/export", s.handleStatsExport)

	mux.HandleFunc("GET /api/impairments/presets", s.handlePresets)

	mux.HandleFunc("POST /api/neighbors/discover", s.handleDiscover)

	if s.bench != nil {
		mux.HandleFunc("POST /api/rfc2544/start", s.handleBenchStart)
		mux.HandleFunc("GET /api/rfc2544/results/{profile}", s.handleBenchResults)
		mux.HandleFunc("POST /api/rfc2544/{profile}/cancel", s.handleBenchCancel)
	}

	if s.wl != nil {
		mux.HandleFunc("GET /api/workloads", s.handleWorkloads)
		mux.HandleFunc("POST /api/workloads/{name}/start", s.handleWorkloadStart)
		mux.HandleFunc("POST /api/workloads/{name}/stop", s.handleWorkloadStop)
	}

	var h http.Handler = mux
	h = Recovery(s.log)(h)
	h = Logging(s.log)(h)

	return h2c.NewHandler(h, &http2.Server{})
}

// -------------------------------------------------------------------------
// JSON Helpers
// -------------------------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response encode failed", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps engine and workload errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidProfile),
		errors.Is(err, engine.ErrUnknownPreset),
		errors.Is(err, engine.ErrPortNotFound):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrProfileNotFound),
		errors.Is(err, engine.ErrBenchNotFound),
		errors.Is(err, workloads.ErrNotAvailable):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrDuplicateProfile),
		errors.Is(err, engine.ErrImmutableWhileRunning),
		errors.Is(err, engine.ErrBenchRunning),
		errors.Is(err, workloads.ErrAlreadyRunning),
		errors.Is(err, workloads.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, req *http.Request, v any) bool {
	// Unknown fields are ignored so older clients keep working against
	// newer daemons.
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))

	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("decode request: %v", err),
		})
		return false
	}

	return true
}

// -------------------------------------------------------------------------
// Ports
// -------------------------------------------------------------------------

func (s *Server) handleListPorts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ports": s.core.ListPorts()})
}

// -------------------------------------------------------------------------
// Profiles
// -------------------------------------------------------------------------

// profileRequest is a profile descriptor plus the optional preset
// shorthand that expands into the impairment block.
type profileRequest struct {
	engine.Profile
	ImpairmentPreset string `json:"impairment_preset,omitempty"`
}

// applyPreset resolves the preset name, if any, into the impairment
// block. An explicit impairments object in the same request loses.
func (r *profileRequest) applyPreset() error {
	if r.ImpairmentPreset == "" {
		return nil
	}

	im, err := engine.LookupPreset(r.ImpairmentPreset)
	if err != nil {
		return err
	}
	r.Impairments = im

	return nil
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"profiles": s.core.ListProfiles()})
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, req *http.Request) {
	var pr profileRequest
	if !s.decode(w, req, &pr) {
		return
	}

	if err := pr.applyPreset(); err != nil {
		s.writeError(w, err)
		return
	}

	warnings, err := s.core.CreateProfile(req.Context(), &pr.Profile)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]any{"name": pr.Name}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}

	s.writeJSON(w, http.StatusCreated, resp)
}

// handleUpdateProfile applies a partial update: the stored descriptor
// is the base and the request body overlays only the fields it names.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")

	current, _, err := s.core.Registry().GetProfile(name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	pr := profileRequest{Profile: *current}
	if !s.decode(w, req, &pr) {
		return
	}
	pr.Name = name

	if err := pr.applyPreset(); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.core.UpdateProfile(req.Context(), &pr.Profile); err != nil {
		s.writeError(w, err)
		return
	}

	updated, state, err := s.core.Registry().GetProfile(name)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"profile": updated,
		"state":   state.String(),
	})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, req *http.Request) {
	if err := s.core.DeleteProfile(req.Context(), req.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleEnableProfile(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")

	if err := s.core.EnableProfile(req.Context(), name); err != nil {
		// A source port without a raw endpoint is a conflict, not a
		// malformed request.
		if errors.Is(err, engine.ErrPortNotFound) {
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDisableProfile(w http.ResponseWriter, req *http.Request) {
	if err := s.core.DisableProfile(req.Context(), req.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// -------------------------------------------------------------------------
// Traffic Control + Stats
// -------------------------------------------------------------------------

// failureStrings flattens a per-profile error map for the response body.
func failureStrings(failures map[string]error) map[string]string {
	if len(failures) == 0 {
		return nil
	}

	out := make(map[string]string, len(failures))
	for name, err := range failures {
		out[name] = err.Error()
	}

	return out
}

func (s *Server) handleStartAll(w http.ResponseWriter, req *http.Request) {
	resp := map[string]any{"status": "started"}
	if f := failureStrings(s.core.StartAll(req.Context())); f != nil {
		resp["failures"] = f
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStopAll(w http.ResponseWriter, req *http.Request) {
	resp := map[string]any{"status": "stopped"}
	if f := failureStrings(s.core.StopAll(req.Context())); f != nil {
		resp["failures"] = f
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.core.GetStats())
}

func (s *Server) handleStatsReset(w http.ResponseWriter, _ *http.Request) {
	s.core.ResetStats()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleStatsExport streams the snapshot as a CSV attachment.
func (s *Server) handleStatsExport(w http.ResponseWriter, _ *http.Request) {
	snap := s.core.GetStats()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=gotgen-stats-%s.csv", snap.Timestamp.Format("20060102-150405")))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"kind", "name", "frames", "bytes", "dropped",
		"loss_drops", "dup_emits", "reorder_events", "shaper_overruns", "last_send",
	})

	for _, port := range s.core.ListPorts() {
		_ = cw.Write([]string{
			"port", port.Name,
			strconv.FormatUint(port.Counters.Frames, 10),
			strconv.FormatUint(port.Counters.Bytes, 10),
			strconv.FormatUint(port.Counters.Dropped, 10),
			"", "", "", "", "",
		})
	}

	for _, prof := range s.core.ListProfiles() {
		lastSend := ""
		if !prof.Counters.LastSend.IsZero() {
			lastSend = prof.Counters.LastSend.Format(time.RFC3339Nano)
		}
		_ = cw.Write([]string{
			"profile", prof.Name,
			strconv.FormatUint(prof.Counters.FramesSent, 10),
			strconv.FormatUint(prof.Counters.BytesSent, 10),
			"",
			strconv.FormatUint(prof.Counters.LossDrops, 10),
			strconv.FormatUint(prof.Counters.DupEmits, 10),
			strconv.FormatUint(prof.Counters.ReorderEvents, 10),
			strconv.FormatUint(prof.Counters.ShaperOverruns, 10),
			lastSend,
		})
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		s.log.Debug("csv export failed", slog.Any("error", err))
	}
}

// -------------------------------------------------------------------------
// Impairment Presets
// -------------------------------------------------------------------------

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	presets := make(map[string]engine.Impairments)
	for _, name := range engine.PresetNames() {
		im, err := engine.LookupPreset(name)
		if err != nil {
			continue
		}
		presets[name] = im
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"presets": presets})
}

// -------------------------------------------------------------------------
// Neighbor Discovery
// -------------------------------------------------------------------------

func (s *Server) handleDiscover(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Interfaces []string `json:"interfaces,omitempty"`
	}

	// An empty body means all ports.
	if req.ContentLength != 0 {
		if !s.decode(w, req, &body) {
			return
		}
	}

	caches, err := s.core.DiscoverNeighbors(req.Context(), body.Interfaces)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"neighbors": caches})
}

// -------------------------------------------------------------------------
// RFC 2544
// -------------------------------------------------------------------------

func (s *Server) handleBenchStart(w http.ResponseWriter, req *http.Request) {
	var cfg engine.BenchConfig
	if !s.decode(w, req, &cfg) {
		return
	}

	if err := s.bench.Start(req.Context(), cfg); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"profile": cfg.Profile, "state": "running"})
}

func (s *Server) handleBenchResults(w http.ResponseWriter, req *http.Request) {
	report, err := s.bench.Status(req.PathValue("profile"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBenchCancel(w http.ResponseWriter, req *http.Request) {
	s.bench.Cancel(req.PathValue("profile"))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// -------------------------------------------------------------------------
// Workloads
// -------------------------------------------------------------------------

func (s *Server) handleWorkloads(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"workloads": s.wl.StatusAll()})
}

func (s *Server) handleWorkloadStart(w http.ResponseWriter, req *http.Request) {
	// The workload outlives the request; it runs under the manager's
	// lifecycle, not the request context.
	if err := s.wl.Start(context.WithoutCancel(req.Context()), req.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleWorkloadStop(w http.ResponseWriter, req *http.Request) {
	if err := s.wl.Stop(req.PathValue("name")); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
