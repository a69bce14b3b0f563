// Package server exposes the daemon's HTTP API. Every mutating route sits
// behind the shared token and allowlist guard.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tweakforge/tweakforge/internal/archive"
	"github.com/tweakforge/tweakforge/internal/config"
	"github.com/tweakforge/tweakforge/internal/containers"
	"github.com/tweakforge/tweakforge/internal/installer"
	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/project"
	"github.com/tweakforge/tweakforge/internal/session"
)

type API struct {
	cfg       config.Config
	store     *project.Store
	manager   *session.Manager
	installer *installer.Installer
	resolver  containers.Resolver
	mux       *http.ServeMux
	metrics   *metrics
}

func New(cfg config.Config, st *project.Store, mgr *session.Manager, inst *installer.Installer, resolver containers.Resolver) *API {
	if resolver == nil {
		resolver = containers.Null{}
	}
	a := &API{
		cfg:       cfg,
		store:     st,
		manager:   mgr,
		installer: inst,
		resolver:  resolver,
		mux:       http.NewServeMux(),
		metrics:   newMetrics(),
	}
	a.routes()
	return a
}

func (a *API) Handler() http.Handler {
	return a.mux
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.Handle("GET /metrics", a.metrics.handler())

	a.handle("GET /v1/projects", a.handleListProjects)
	a.handle("POST /v1/projects", a.handleCreateProject)
	a.handle("POST /v1/projects/import", a.handleImportProject)
	a.handle("POST /v1/projects/adopt", a.handleAdoptProject)
	a.handle("GET /v1/projects/{id}", a.handleGetProject)
	a.handle("DELETE /v1/projects/{id}", a.handleDeleteProject)
	a.handle("GET /v1/projects/{id}/export", a.handleExportProject)
	a.handle("GET /v1/projects/{id}/history", a.handleProjectHistory)
	a.handle("GET /v1/projects/{id}/artifact", a.handleProjectArtifact)
	a.handle("GET /v1/projects/{id}/container", a.handleProjectContainer)
	a.handle("POST /v1/projects/{id}/build", a.handleTriggerBuild)
	a.handle("POST /v1/projects/{id}/install", a.handleTriggerInstall)
	a.handle("POST /v1/projects/{id}/repair", a.handleRepairProject)
	a.handle("GET /v1/sessions/active", a.handleActiveSession)
	a.handle("GET /v1/sessions/{id}", a.handleGetSession)
	a.handle("GET /v1/sessions/{id}/log", a.handleSessionLog)
	a.handle("POST /v1/sessions/{id}/cancel", a.handleCancelSession)
}

func (a *API) handle(pattern string, h http.HandlerFunc) {
	a.mux.Handle(pattern, a.guard(pattern, h))
}

func (a *API) guard(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			a.metrics.observeRequest(r.Method, route, sw.status, time.Since(start))
		}()

		if err := a.checkAllowlist(r); err != nil {
			writeJSON(sw, http.StatusForbidden, map[string]string{"error": err.Error()})
			return
		}
		if err := a.checkToken(r); err != nil {
			writeJSON(sw, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(sw, r)
	})
}

func (a *API) checkToken(r *http.Request) error {
	if strings.TrimSpace(a.cfg.Token) == "" {
		return nil
	}
	if strings.TrimSpace(r.Header.Get(a.cfg.AuthHeader)) != a.cfg.Token {
		return errors.New("invalid token")
	}
	return nil
}

func (a *API) checkAllowlist(r *http.Request) error {
	if !a.cfg.AllowlistEnabled() {
		return nil
	}
	ip, err := remoteIP(r.RemoteAddr)
	if err != nil {
		return err
	}
	for _, allow := range a.cfg.Allowlist {
		if allowEntryMatches(allow, ip) {
			return nil
		}
	}
	return fmt.Errorf("remote ip %s is not allowed", ip.String())
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := a.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if projects == nil {
		projects = []*project.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (a *API) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string `json:"name"`
		BundleID      string `json:"bundle_id"`
		TargetProcess string `json:"target_process"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	proj, err := a.store.Create(req.Name, req.BundleID, req.TargetProcess)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

func (a *API) handleImportProject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxImportBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	file, _, err := r.FormFile("bundle")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing bundle file field"})
		return
	}
	defer file.Close()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" || strings.ContainsAny(name, `/\`) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project name"})
		return
	}

	tmp, err := os.CreateTemp(a.cfg.TmpDir(), "import-*.zip")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := tmp.Close(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	dest := filepath.Join(a.cfg.ProjectsDir(), name)
	if _, err := os.Stat(dest); err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "project directory already exists: " + name})
		return
	}
	if _, err := archive.Unpack(tmp.Name(), dest, archive.Limits{
		MaxFiles:      a.cfg.MaxExtractedFiles,
		MaxTotalBytes: a.cfg.MaxExtractedTotalBytes,
		MaxFileBytes:  a.cfg.MaxExtractedFileBytes,
	}); err != nil {
		_ = os.RemoveAll(dest)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "extract bundle: " + err.Error()})
		return
	}

	proj, err := a.store.Adopt(dest, name, r.FormValue("bundle_id"), r.FormValue("target_process"))
	if err != nil {
		_ = os.RemoveAll(dest)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

// handleAdoptProject registers a zip that is already on the device, e.g.
// dropped in place by a file manager. Extraction runs through the system
// unzip binary as the build user so ownership comes out right.
func (a *API) handleAdoptProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ZipPath       string `json:"zip_path"`
		Name          string `json:"name"`
		BundleID      string `json:"bundle_id"`
		TargetProcess string `json:"target_process"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project name"})
		return
	}

	dest := filepath.Join(a.cfg.ProjectsDir(), name)
	if _, err := os.Stat(dest); err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "project directory already exists: " + name})
		return
	}
	if err := a.installer.Extract(r.Context(), req.ZipPath, dest); err != nil {
		_ = os.RemoveAll(dest)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	proj, err := a.store.Adopt(dest, name, req.BundleID, req.TargetProcess)
	if err != nil {
		_ = os.RemoveAll(dest)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, proj)
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	proj, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeProjectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (a *API) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if active, ok := a.manager.Active(); ok && active.ProjectID == id {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "project has an active session"})
		return
	}
	if err := a.store.Delete(id); err != nil {
		writeProjectError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleExportProject(w http.ResponseWriter, r *http.Request) {
	proj, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeProjectError(w, err)
		return
	}

	var payload bytes.Buffer
	err = archive.Pack(proj.Root, &payload, func(rel string) bool {
		return rel == project.MetadataFile || strings.HasPrefix(rel, project.PackagesDir+"/")
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", proj.Name+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload.Bytes())
}

func (a *API) handleProjectHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.store.Get(id); err != nil {
		writeProjectError(w, err)
		return
	}
	recs, err := a.manager.History(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []session.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *API) handleProjectArtifact(w http.ResponseWriter, r *http.Request) {
	proj, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeProjectError(w, err)
		return
	}
	artifact := pipeline.LatestArtifact(proj.PackagesPath())
	if artifact == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no package artifact"})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.debian.binary-package")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(artifact)))
	http.ServeFile(w, r, artifact)
}

func (a *API) handleProjectContainer(w http.ResponseWriter, r *http.Request) {
	proj, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeProjectError(w, err)
		return
	}
	path, err := a.resolver.DataContainer(proj.BundleID)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, containers.ErrUnavailable) {
			status = http.StatusNotImplemented
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bundle_id": proj.BundleID,
		"path":      path,
	})
}

func (a *API) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	rec, err := a.manager.StartBuild(r.PathValue("id"))
	if err != nil {
		writeSessionStartError(w, err)
		return
	}
	a.metrics.observeSession(string(rec.Kind))
	writeJSON(w, http.StatusAccepted, rec)
}

func (a *API) handleTriggerInstall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArtifactPath string `json:"artifact_path"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	rec, err := a.manager.StartInstall(r.PathValue("id"), req.ArtifactPath)
	if err != nil {
		writeSessionStartError(w, err)
		return
	}
	a.metrics.observeSession(string(rec.Kind))
	writeJSON(w, http.StatusAccepted, rec)
}

func (a *API) handleRepairProject(w http.ResponseWriter, r *http.Request) {
	proj, err := a.store.Get(r.PathValue("id"))
	if err != nil {
		writeProjectError(w, err)
		return
	}
	changed, err := pipeline.RepairDescriptor(proj.MakefilePath())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func (a *API) handleActiveSession(w http.ResponseWriter, _ *http.Request) {
	rec, ok := a.manager.Active()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.manager.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleSessionLog(w http.ResponseWriter, r *http.Request) {
	entries, ok := a.manager.Log(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if entries == nil {
		entries = []pipeline.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := a.manager.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if !a.manager.Cancel(id) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session is not active"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func writeProjectError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, project.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeSessionStartError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, project.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrBuildRunning):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func remoteIP(remoteAddr string) (net.IP, error) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("parse remote addr: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid remote ip: %s", host)
	}
	return ip, nil
}

func allowEntryMatches(entry string, ip net.IP) bool {
	if strings.Contains(entry, "/") {
		_, cidr, err := net.ParseCIDR(entry)
		if err != nil {
			return false
		}
		return cidr.Contains(ip)
	}
	allowed := net.ParseIP(entry)
	if allowed == nil {
		return false
	}
	return allowed.Equal(ip)
}
