package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/najahiiii/xray-panel/internal/config"
	"github.com/najahiiii/xray-panel/internal/lifecycle"
	"github.com/najahiiii/xray-panel/internal/model"
)

type fakePanel struct {
	clients  map[string]model.ClientRecord
	created  []lifecycle.CreateRequest
	edited   []lifecycle.EditRequest
	restored []byte
	restarts int
}

func newFakePanel() *fakePanel {
	return &fakePanel{clients: map[string]model.ClientRecord{}}
}

func (f *fakePanel) List(ctx context.Context) ([]model.ClientStatus, error) {
	var out []model.ClientStatus
	for _, r := range f.clients {
		out = append(out, model.ClientStatus{ClientRecord: r})
	}
	return out, nil
}

func (f *fakePanel) Get(ctx context.Context, username string) (model.ClientStatus, error) {
	r, ok := f.clients[username]
	if !ok {
		return model.ClientStatus{}, fmt.Errorf("client %s: %w", username, model.ErrNotFound)
	}
	return model.ClientStatus{ClientRecord: r}, nil
}

func (f *fakePanel) Create(ctx context.Context, req lifecycle.CreateRequest) (lifecycle.Result, error) {
	if _, ok := f.clients[req.Username]; ok {
		return lifecycle.Result{}, fmt.Errorf("client %s: %w", req.Username, model.ErrDuplicateUsername)
	}
	f.created = append(f.created, req)
	r := model.ClientRecord{Username: req.Username, Protocol: req.Protocol, Transport: req.Transport, Status: model.StatusActive, Credential: "U1"}
	f.clients[req.Username] = r
	return lifecycle.Result{Record: r, Link: "vless://U1@ex.com:443?type=ws#" + req.Username}, nil
}

func (f *fakePanel) Edit(ctx context.Context, req lifecycle.EditRequest) (lifecycle.Result, error) {
	r, ok := f.clients[req.Username]
	if !ok {
		return lifecycle.Result{}, model.ErrNotFound
	}
	f.edited = append(f.edited, req)
	return lifecycle.Result{Record: r}, nil
}

func (f *fakePanel) Delete(ctx context.Context, username string) (lifecycle.Result, error) {
	if _, ok := f.clients[username]; !ok {
		return lifecycle.Result{}, fmt.Errorf("client %s: %w", username, model.ErrNotFound)
	}
	delete(f.clients, username)
	return lifecycle.Result{}, nil
}

func (f *fakePanel) SetStatus(ctx context.Context, username string, status model.Status) (lifecycle.Result, error) {
	r, ok := f.clients[username]
	if !ok {
		return lifecycle.Result{}, model.ErrNotFound
	}
	r.Status = status
	f.clients[username] = r
	return lifecycle.Result{Record: r}, nil
}

func (f *fakePanel) Link(ctx context.Context, username string) (string, error) {
	if _, ok := f.clients[username]; !ok {
		return "", model.ErrNotFound
	}
	return "vless://U1@ex.com:443?type=ws#" + username, nil
}

func (f *fakePanel) Restart(ctx context.Context) error {
	f.restarts++
	return fmt.Errorf("service xray: %w", model.ErrRestart)
}

func (f *fakePanel) Sync(ctx context.Context) (lifecycle.SyncResult, error) {
	return lifecycle.SyncResult{Clients: len(f.clients)}, nil
}

func (f *fakePanel) Restore(ctx context.Context, archive []byte) (lifecycle.SyncResult, error) {
	if !bytes.HasPrefix(archive, []byte("PK")) {
		return lifecycle.SyncResult{}, model.ErrUnsafeArchive
	}
	f.restored = archive
	return lifecycle.SyncResult{Clients: 1}, nil
}

func (f *fakePanel) Backup(ctx context.Context, w io.Writer) error {
	_, err := w.Write([]byte("PK\x03\x04fake"))
	return err
}

func (f *fakePanel) Status(ctx context.Context, host lifecycle.HostSampler) (model.SystemSnapshot, error) {
	return model.SystemSnapshot{Users: len(f.clients), ProxyActive: true}, nil
}

func newTestServer(t *testing.T) (*Server, *fakePanel) {
	t.Helper()
	cfg := config.Default()
	cfg.Web.AdminUser = "admin"
	cfg.Web.AdminPass = "secret"
	panel := newFakePanel()
	return New(cfg, nil, panel, nil), panel
}

func do(t *testing.T, s *Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.SetBasicAuth("admin", "secret")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, s, method, path, strings.NewReader(body), "application/json")
}

func TestRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateClient(t *testing.T) {
	s, panel := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/clients", `{"username":"alice","quota_gb":10,"days":30,"protocol":"vless-ws"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var view resultView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Client.Username != "alice" || !strings.HasPrefix(view.Link, "vless://") {
		t.Fatalf("view = %+v", view)
	}
	req := panel.created[0]
	if req.Protocol != model.ProtocolVLESS || req.Transport != model.TransportWS || req.QuotaGB != 10 || req.Days != 30 {
		t.Fatalf("create request = %+v", req)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/clients", `{"username":"alice","days":1}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/clients", `{"username":"bob","expiry":"tomorrow"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad expiry status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/clients", `{not json`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad body status = %d", rec.Code)
	}
}

func TestEditAndStatus(t *testing.T) {
	s, panel := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/clients", `{"username":"alice","days":1}`)

	rec := doJSON(t, s, http.MethodPut, "/api/clients/alice", `{"add_days":5,"quota_gb":20,"expiry":"2030-01-02 03:04:05"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d body=%s", rec.Code, rec.Body)
	}
	req := panel.edited[0]
	if req.AddDays != 5 || req.QuotaGB == nil || *req.QuotaGB != 20 || req.Expiry == nil || req.Expiry.Year() != 2030 {
		t.Fatalf("edit request = %+v", req)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/clients/alice/status", `{"status":"disabled"}`)
	if rec.Code != http.StatusOK || panel.clients["alice"].Status != model.StatusDisabled {
		t.Fatalf("set status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/clients/alice/status", `{"status":"paused"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPut, "/api/clients/ghost", `{"add_days":1}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("edit missing = %d", rec.Code)
	}
}

func TestDeleteClient(t *testing.T) {
	s, _ := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/clients", `{"username":"alice","days":1}`)

	if rec := do(t, s, http.MethodDelete, "/api/clients/alice", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/api/clients/alice", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestLinkAndQR(t *testing.T) {
	s, _ := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/clients", `{"username":"alice","days":1}`)

	rec := do(t, s, http.MethodGet, "/api/clients/alice/link", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "vless://") {
		t.Fatalf("link = %d %s", rec.Code, rec.Body)
	}
	rec = do(t, s, http.MethodGet, "/api/clients/alice/qr", nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("qr = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("qr body is not a png")
	}
}

func TestRestartFailureIsBadGateway(t *testing.T) {
	s, panel := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/xray/restart", nil, "")
	if rec.Code != http.StatusBadGateway || panel.restarts != 1 {
		t.Fatalf("restart = %d", rec.Code)
	}
}

func TestBackupAndRestore(t *testing.T) {
	s, panel := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/backup", nil, "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/zip" {
		t.Fatalf("backup = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Fatal("backup is not an attachment")
	}

	upload := func(payload []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("backup_file", "backup.zip")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fw.Write(payload)
		mw.Close()
		return do(t, s, http.MethodPost, "/api/restore", &body, mw.FormDataContentType())
	}

	if rec := upload([]byte("PK\x03\x04data")); rec.Code != http.StatusOK || panel.restored == nil {
		t.Fatalf("restore = %d %s", rec.Code, rec.Body)
	}
	if rec := upload([]byte("not a zip")); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unsafe restore = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/restore", nil, ""); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing file = %d", rec.Code)
	}
}

func TestStatusAndList(t *testing.T) {
	s, _ := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/clients", `{"username":"alice","days":1}`)

	rec := do(t, s, http.MethodGet, "/api/status", nil, "")
	var snap model.SystemSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if snap.Users != 1 || !snap.ProxyActive {
		t.Fatalf("snapshot = %+v", snap)
	}

	rec = do(t, s, http.MethodGet, "/api/clients", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"username":"alice"`) {
		t.Fatalf("list = %d %s", rec.Code, rec.Body)
	}
}
