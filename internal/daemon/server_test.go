package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/config"
	"github.com/felixgeelhaar/codeterm/internal/session"
)

// setupTestServer creates a test server with no run delay and rate
// limiting disabled
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultLocalConfig()
	cfg.Daemon.Port = 0
	cfg.Terminal.DelayMinMs = 0
	cfg.Terminal.DelayMaxMs = 0
	cfg.RateLimit.Enabled = false

	server, err := NewServer(context.Background(), ServerConfig{Config: cfg})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Sessions().Shutdown(ctx)
	})
	return server
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) session.View {
	t.Helper()
	var v session.View
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode session view: %v", err)
	}
	return v
}

func createTestSession(t *testing.T, server *Server, lang string) session.View {
	t.Helper()
	w := doRequest(t, server, http.MethodPost, "/v1/sessions", map[string]string{"language": lang})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status %d: %s", w.Code, w.Body.String())
	}
	return decodeView(t, w)
}

func TestNewServer_RequiresConfig(t *testing.T) {
	if _, err := NewServer(context.Background(), ServerConfig{}); err == nil {
		t.Error("NewServer() should fail without config")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got %v", resp["status"])
	}
	if w.Header().Get(CorrelationIDHeader) == "" {
		t.Error("expected correlation id header")
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := setupTestServer(t)
	createTestSession(t, server, "python")

	w := doRequest(t, server, http.MethodGet, "/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp map[string]interface{}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "running" {
		t.Errorf("expected status 'running', got %v", resp["status"])
	}
	if resp["version"] != Version {
		t.Errorf("version = %v, want %s", resp["version"], Version)
	}
	if resp["sessions"] != float64(1) {
		t.Errorf("sessions = %v, want 1", resp["sessions"])
	}
}

func TestLanguagesEndpoint(t *testing.T) {
	server := setupTestServer(t)

	w := doRequest(t, server, http.MethodGet, "/v1/languages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp struct {
		Languages []struct {
			ID       string `json:"id"`
			FileName string `json:"file_name"`
		} `json:"languages"`
	}
	json.NewDecoder(w.Body).Decode(&resp)

	want := []string{"python", "java", "c", "cpp"}
	if len(resp.Languages) != len(want) {
		t.Fatalf("got %d languages, want %d", len(resp.Languages), len(want))
	}
	for i, id := range want {
		if resp.Languages[i].ID != id {
			t.Errorf("languages[%d] = %s, want %s", i, resp.Languages[i].ID, id)
		}
	}
}

func TestTemplateEndpoint(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		path       string
		wantStatus int
		wantFile   string
	}{
		{"/v1/templates/python", http.StatusOK, "main.py"},
		{"/v1/templates/c++", http.StatusOK, "main.cpp"},
		{"/v1/templates/java", http.StatusOK, "Main.java"},
		{"/v1/templates/cobol", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := doRequest(t, server, http.MethodGet, tt.path, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantFile == "" {
				return
			}
			var resp map[string]interface{}
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["file_name"] != tt.wantFile {
				t.Errorf("file_name = %v, want %s", resp["file_name"], tt.wantFile)
			}
			if tmpl, _ := resp["template"].(string); tmpl == "" {
				t.Error("template should not be empty")
			}
		})
	}
}

func TestExecuteEndpoint(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantOutput string
		wantError  bool
	}{
		{
			name:       "python loop",
			body:       map[string]string{"language": "python", "source": "for i in range(3):\n    print(i)"},
			wantStatus: http.StatusOK,
			wantOutput: "0\n1\n2\n",
		},
		{
			name:       "java missing class",
			body:       map[string]string{"language": "java", "source": "System.out.println(1);"},
			wantStatus: http.StatusOK,
			wantError:  true,
		},
		{
			name:       "unknown language",
			body:       map[string]string{"language": "rust", "source": "fn main() {}"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing body",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, http.MethodPost, "/v1/execute", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp struct {
				Output string                 `json:"output"`
				Error  map[string]interface{} `json:"error"`
			}
			json.NewDecoder(w.Body).Decode(&resp)
			if tt.wantError {
				if resp.Error == nil || resp.Error["kind"] != "compile" {
					t.Errorf("error = %v, want compile error", resp.Error)
				}
				return
			}
			if resp.Output != tt.wantOutput {
				t.Errorf("output = %q, want %q", resp.Output, tt.wantOutput)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	server := setupTestServer(t)
	created := createTestSession(t, server, "python")

	if created.FileName != "main.py" {
		t.Errorf("file_name = %q, want main.py", created.FileName)
	}
	if created.IsRunning || created.IsDebugging {
		t.Error("new session should be idle")
	}

	w := doRequest(t, server, http.MethodGet, "/v1/sessions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session: status %d", w.Code)
	}

	w = doRequest(t, server, http.MethodGet, "/v1/sessions", nil)
	var list struct {
		Sessions []session.View `json:"sessions"`
	}
	json.NewDecoder(w.Body).Decode(&list)
	if len(list.Sessions) != 1 {
		t.Errorf("listed %d sessions, want 1", len(list.Sessions))
	}

	w = doRequest(t, server, http.MethodPut, "/v1/sessions/"+created.ID+"/language", map[string]string{"language": "c"})
	if w.Code != http.StatusOK {
		t.Fatalf("set language: status %d", w.Code)
	}
	if v := decodeView(t, w); v.Language != "c" || !strings.Contains(v.Source, "printf") {
		t.Errorf("language switch did not load the C template: %+v", v)
	}

	w = doRequest(t, server, http.MethodPut, "/v1/sessions/"+created.ID+"/source", map[string]string{"source": "int main() { printf(\"hi\\n\"); }"})
	if w.Code != http.StatusOK {
		t.Fatalf("update source: status %d", w.Code)
	}

	w = doRequest(t, server, http.MethodDelete, "/v1/sessions/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete session: status %d", w.Code)
	}
	w = doRequest(t, server, http.MethodGet, "/v1/sessions/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted session: status %d, want 404", w.Code)
	}
}

func TestCreateSession_Invalid(t *testing.T) {
	server := setupTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"unknown language", map[string]string{"language": "go"}},
		{"empty body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, http.MethodPost, "/v1/sessions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestRunEndpoint(t *testing.T) {
	server := setupTestServer(t)
	created := createTestSession(t, server, "python")

	// Empty body runs the current buffer
	w := doRequest(t, server, http.MethodPost, "/v1/sessions/"+created.ID+"/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run: status %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Session session.View `json:"session"`
		Result  struct {
			Output string `json:"output"`
		} `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Output != "1\n4\n9\n16\n25\n" {
		t.Errorf("output = %q", resp.Result.Output)
	}
	lines := resp.Session.Lines
	if len(lines) < 2 || lines[0] != "Compiling main.py with Python 3.11.4..." || lines[1] != "$ python3 main.py" {
		t.Errorf("banner lines = %q", lines)
	}
	if !strings.HasSuffix(resp.Session.Transcript, "--- Output ---\n1\n4\n9\n16\n25") {
		t.Errorf("transcript = %q", resp.Session.Transcript)
	}
	if resp.Session.IsRunning {
		t.Error("session should not be running after a synchronous run")
	}
	if resp.Session.Performance.HeapTotalBytes == 0 {
		t.Error("performance should be populated after a successful run")
	}
}

func TestRunEndpoint_Errors(t *testing.T) {
	server := setupTestServer(t)
	created := createTestSession(t, server, "java")

	w := doRequest(t, server, http.MethodPost, "/v1/sessions/missing/run", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session: status %d, want 404", w.Code)
	}

	w = doRequest(t, server, http.MethodPost, "/v1/sessions/"+created.ID+"/run", map[string]string{"source": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank source: status %d, want 400", w.Code)
	}

	doRequest(t, server, http.MethodPost, "/v1/sessions/"+created.ID+"/debug/start", nil)
	w = doRequest(t, server, http.MethodPost, "/v1/sessions/"+created.ID+"/run", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("run while debugging: status %d, want 409", w.Code)
	}

	w = doRequest(t, server, http.MethodDelete, "/v1/sessions/"+created.ID+"/run", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("cancel with nothing running: status %d, want 409", w.Code)
	}
}

func TestRunEndpoint_Async(t *testing.T) {
	server := setupTestServer(t)
	created := createTestSession(t, server, "cpp")

	w := doRequest(t, server, http.MethodPost, "/v1/sessions/"+created.ID+"/run", map[string]bool{"async": true})
	if w.Code != http.StatusAccepted {
		t.Fatalf("async run: status %d: %s", w.Code, w.Body.String())
	}
	if v := decodeView(t, w); !v.IsRunning {
		t.Error("async run should report the session as running")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		w = doRequest(t, server, http.MethodGet, "/v1/sessions/"+created.ID, nil)
		v := decodeView(t, w)
		if !v.IsRunning {
			if !strings.Contains(v.Transcript, "Line 5") {
				t.Errorf("transcript = %q", v.Transcript)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("async run did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDebugEndpoints(t *testing.T) {
	server := setupTestServer(t)
	created := createTestSession(t, server, "python")
	base := "/v1/sessions/" + created.ID

	w := doRequest(t, server, http.MethodPost, base+"/debug/step", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("step before start: status %d, want 409", w.Code)
	}

	w = doRequest(t, server, http.MethodPost, base+"/debug/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: status %d", w.Code)
	}
	v := decodeView(t, w)
	if !v.IsDebugging || v.Debug.CurrentLine != 1 || v.Debug.LineCount != 4 {
		t.Errorf("debug = %+v", v.Debug)
	}

	w = doRequest(t, server, http.MethodPost, base+"/debug/start", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second start: status %d, want 409", w.Code)
	}

	for _, line := range []int{3, 1, 3} {
		doRequest(t, server, http.MethodPost, base+"/breakpoints", map[string]int{"line": line})
	}
	w = doRequest(t, server, http.MethodPost, base+"/breakpoints", map[string]int{"line": 0})
	if w.Code != http.StatusBadRequest {
		t.Errorf("breakpoint at 0: status %d, want 400", w.Code)
	}
	w = doRequest(t, server, http.MethodDelete, base+"/breakpoints/1", nil)
	if v := decodeView(t, w); len(v.Debug.Breakpoints) != 1 || v.Debug.Breakpoints[0] != 3 {
		t.Errorf("breakpoints = %v, want [3]", v.Debug.Breakpoints)
	}
	w = doRequest(t, server, http.MethodDelete, base+"/breakpoints/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric breakpoint: status %d, want 400", w.Code)
	}

	doRequest(t, server, http.MethodPost, base+"/watches", map[string]string{"name": "sum"})
	w = doRequest(t, server, http.MethodPost, base+"/watches", map[string]string{"name": "nope"})
	v = decodeView(t, w)
	if len(v.Debug.Watches) != 2 || v.Debug.Watches[0].Value != "0" || v.Debug.Watches[1].Value != "not available" {
		t.Errorf("watches = %+v", v.Debug.Watches)
	}
	w = doRequest(t, server, http.MethodDelete, base+"/watches/nope", nil)
	if v := decodeView(t, w); len(v.Debug.Watches) != 1 {
		t.Errorf("watches after remove = %+v", v.Debug.Watches)
	}

	w = doRequest(t, server, http.MethodPost, base+"/debug/step", nil)
	if v := decodeView(t, w); v.Debug.CurrentLine != 2 {
		t.Errorf("current_line = %d, want 2", v.Debug.CurrentLine)
	}

	w = doRequest(t, server, http.MethodPost, base+"/debug/stop", nil)
	if v := decodeView(t, w); v.IsDebugging {
		t.Error("stop should end debugging")
	}
	w = doRequest(t, server, http.MethodPost, base+"/debug/stop", nil)
	if w.Code != http.StatusOK {
		t.Errorf("second stop: status %d, want 200", w.Code)
	}
}

func TestClearOutputEndpoint(t *testing.T) {
	server := setupTestServer(t)
	created := createTestSession(t, server, "c")

	doRequest(t, server, http.MethodPost, "/v1/sessions/"+created.ID+"/run", nil)
	w := doRequest(t, server, http.MethodDelete, "/v1/sessions/"+created.ID+"/output", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear: status %d", w.Code)
	}
	if v := decodeView(t, w); v.Transcript != "" || len(v.Lines) != 0 {
		t.Errorf("transcript after clear = %q", v.Transcript)
	}
}

func TestRateLimitedServer(t *testing.T) {
	cfg := config.DefaultLocalConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1}

	server, err := NewServer(context.Background(), ServerConfig{Config: cfg})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	first := doRequest(t, server, http.MethodGet, "/v1/languages", nil)
	second := doRequest(t, server, http.MethodGet, "/v1/languages", nil)
	if first.Code != http.StatusOK {
		t.Errorf("first request: status %d, want 200", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status %d, want 429", second.Code)
	}
}

func TestSessionConfig(t *testing.T) {
	tc := config.DefaultLocalConfig().Terminal
	tc.DelayMinMs = 10
	tc.DelayMaxMs = 20
	tc.Perf.StepCPUDelta = 7

	got := SessionConfig(tc)
	if got.DelayMin != 10*time.Millisecond || got.DelayMax != 20*time.Millisecond {
		t.Errorf("delay window = [%v, %v]", got.DelayMin, got.DelayMax)
	}
	if got.Perf.StepCPUDelta != 7 {
		t.Errorf("StepCPUDelta = %v, want 7", got.Perf.StepCPUDelta)
	}
	if got.MaxIterations != 1000 {
		t.Errorf("MaxIterations = %d, want 1000", got.MaxIterations)
	}
	if got.MaxOutputBytes != 256<<10 {
		t.Errorf("MaxOutputBytes = %d, want %d", got.MaxOutputBytes, 256<<10)
	}
}
