package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/projecteru2/warden/types"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Start(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, s.coord.GetStatus(r.Context()))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Stop(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, s.coord.GetStatus(r.Context()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.coord.GetStatus(r.Context()))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"state": string(s.coord.State())})
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
		writeErr(w, fmt.Errorf("body must be {\"command\": \"...\"}"))
		return
	}
	res, err := s.coord.Execute(r.Context(), req.Command)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, res)
}

func (s *Server) handlePluginList(w http.ResponseWriter, r *http.Request) {
	views, err := s.tracker.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, views)
}

func (s *Server) handlePluginGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.tracker.Get(r.Context(), r.PathValue("filename"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, view)
}

func (s *Server) handlePluginEnable(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.tracker.SetDesired(r.Context(), r.PathValue("filename"), enabled)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, view)
	}
}

type envRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handlePluginSetEnv(w http.ResponseWriter, r *http.Request) {
	var req envRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		writeErr(w, fmt.Errorf("body must be {\"key\": \"...\", \"value\": \"...\"}"))
		return
	}
	if err := s.tracker.SetEnv(r.Context(), r.PathValue("filename"), req.Key, req.Value); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handlePluginUnsetEnv(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.UnsetEnv(r.Context(), r.PathValue("filename"), r.PathValue("key")); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	cur, err := s.coord.CurrentSession(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, cur)
}

func (s *Server) handleLastSession(w http.ResponseWriter, r *http.Request) {
	last, err := s.coord.LastSession(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, last)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coord.UsageStats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, stats)
}

func (s *Server) handleBackupCreate(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"job_id": s.backups()})
}

func (s *Server) handleRestoreCreate(w http.ResponseWriter, _ *http.Request) {
	id, err := s.restores()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"job_id": id})
}

func (s *Server) handleBackupPrune(w http.ResponseWriter, r *http.Request) {
	if err := s.prunes(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleJobList(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.jobs.List())
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeErr(w, fmt.Errorf("job %s: %w", r.PathValue("id"), types.ErrNotFound))
		return
	}
	writeOK(w, job)
}
