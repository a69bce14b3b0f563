// Package client is the HTTP client used by the CLI and the TUI to drive a
// tweakforge daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/project"
	"github.com/tweakforge/tweakforge/internal/session"
)

const defaultAuthHeader = "X-Forge-Token"

type HTTPClient struct {
	BaseURL    string
	Token      string
	AuthHeader string
	Client     *http.Client
}

func (c *HTTPClient) ListProjects(ctx context.Context) ([]project.Project, error) {
	var out []project.Project
	if err := c.doJSON(ctx, http.MethodGet, "/v1/projects", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateProject(ctx context.Context, name, bundleID, targetProcess string) (*project.Project, error) {
	req := map[string]string{
		"name":           name,
		"bundle_id":      bundleID,
		"target_process": targetProcess,
	}
	var out project.Project
	if err := c.doJSON(ctx, http.MethodPost, "/v1/projects", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetProject(ctx context.Context, id string) (*project.Project, error) {
	var out project.Project
	if err := c.doJSON(ctx, http.MethodGet, path.Join("/v1/projects", id), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DeleteProject(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, path.Join("/v1/projects", id), nil, nil, http.StatusOK)
}

// ImportProject uploads a local zip bundle and registers it as a project.
func (c *HTTPClient) ImportProject(ctx context.Context, zipPath, name, bundleID, targetProcess string) (*project.Project, error) {
	file, err := os.Open(zipPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("bundle", filepath.Base(zipPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"name":           name,
		"bundle_id":      bundleID,
		"target_process": targetProcess,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("/v1/projects/import"), &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	c.setAuth(httpReq)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, responseError("import project", resp)
	}
	var out project.Project
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportProject writes the project's source bundle into w.
func (c *HTTPClient) ExportProject(ctx context.Context, id string, w io.Writer) error {
	return c.download(ctx, path.Join("/v1/projects", id, "export"), w)
}

// DownloadArtifact writes the project's newest package into w.
func (c *HTTPClient) DownloadArtifact(ctx context.Context, id string, w io.Writer) error {
	return c.download(ctx, path.Join("/v1/projects", id, "artifact"), w)
}

func (c *HTTPClient) TriggerBuild(ctx context.Context, projectID string) (*session.Record, error) {
	var out session.Record
	if err := c.doJSON(ctx, http.MethodPost, path.Join("/v1/projects", projectID, "build"), nil, &out, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) TriggerInstall(ctx context.Context, projectID, artifactPath string) (*session.Record, error) {
	var req any
	if artifactPath != "" {
		req = map[string]string{"artifact_path": artifactPath}
	}
	var out session.Record
	if err := c.doJSON(ctx, http.MethodPost, path.Join("/v1/projects", projectID, "install"), req, &out, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) RepairProject(ctx context.Context, projectID string) (bool, error) {
	var out map[string]bool
	if err := c.doJSON(ctx, http.MethodPost, path.Join("/v1/projects", projectID, "repair"), nil, &out, http.StatusOK); err != nil {
		return false, err
	}
	return out["changed"], nil
}

func (c *HTTPClient) History(ctx context.Context, projectID string) ([]session.Record, error) {
	var out []session.Record
	if err := c.doJSON(ctx, http.MethodGet, path.Join("/v1/projects", projectID, "history"), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id string) (*session.Record, error) {
	var out session.Record
	if err := c.doJSON(ctx, http.MethodGet, path.Join("/v1/sessions", id), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetSessionLog(ctx context.Context, id string) ([]pipeline.LogEntry, error) {
	var out []pipeline.LogEntry
	if err := c.doJSON(ctx, http.MethodGet, path.Join("/v1/sessions", id, "log"), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CancelSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, path.Join("/v1/sessions", id, "cancel"), nil, nil, http.StatusOK)
}

// WaitForTerminal polls the session until it finishes. onUpdate runs after
// each poll with the latest record.
func (c *HTTPClient) WaitForTerminal(
	ctx context.Context,
	sessionID string,
	pollInterval time.Duration,
	onUpdate func(record *session.Record),
) (*session.Record, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		record, err := c.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(record)
		}
		if record.Terminal() {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) doJSON(ctx context.Context, method, p string, in, out any, wantStatus int) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(p), body)
	if err != nil {
		return err
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(httpReq)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return responseError(method+" "+p, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) download(ctx context.Context, p string, w io.Writer) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(p), nil)
	if err != nil {
		return err
	}
	c.setAuth(httpReq)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError("download "+p, resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *HTTPClient) buildURL(p string) string {
	return strings.TrimRight(c.BaseURL, "/") + p
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if strings.TrimSpace(c.Token) == "" {
		return
	}
	header := c.AuthHeader
	if strings.TrimSpace(header) == "" {
		header = defaultAuthHeader
	}
	req.Header.Set(header, c.Token)
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func responseError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)
	detail := strings.TrimSpace(string(raw))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		detail = payload.Error
	}
	return fmt.Errorf("%s failed: status=%d %s", op, resp.StatusCode, detail)
}
