// Package jupytertest provides an in-process fake Jupyter server for tests:
// contents, sessions and kernels REST endpoints plus a kernel channels
// websocket that publishes status and answers debug requests.
package jupytertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DebugHandler answers one DAP request (raw JSON) with replies and events
type DebugHandler func(request json.RawMessage) (reply json.RawMessage, events []json.RawMessage)

// SessionRequest records one POST /api/sessions body
type SessionRequest struct {
	Path       string
	Name       string
	KernelName string
}

// Server is a fake Jupyter server
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	token           string
	files           map[string]bool
	sessions        map[string]sessionModel
	kernels         map[string]*kernel
	sessionRequests []SessionRequest
	deletedSessions []string
	untitled        int
	idleDelay       time.Duration
	neverIdle       bool
	failSessions    int
	contentsFail    func(dir string) bool
	debugHandler    DebugHandler
	upgrader        websocket.Upgrader
}

type kernelModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state"`
}

type sessionModel struct {
	ID     string      `json:"id"`
	Path   string      `json:"path"`
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Kernel kernelModel `json:"kernel"`
}

type kernel struct {
	model kernelModel
	conns []*wsConn
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// New starts a fake server. token may be empty.
func New(token string) *Server {
	s := &Server{
		token:    token,
		files:    make(map[string]bool),
		sessions: make(map[string]sessionModel),
		kernels:  make(map[string]*kernel),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.route))
	return s
}

// SetIdleDelay delays the idle status published after kernel_info_request
func (s *Server) SetIdleDelay(d time.Duration) {
	s.mu.Lock()
	s.idleDelay = d
	s.mu.Unlock()
}

// SetNeverIdle keeps kernels busy forever
func (s *Server) SetNeverIdle(v bool) {
	s.mu.Lock()
	s.neverIdle = v
	s.mu.Unlock()
}

// FailNextSessions makes the next n session creations return 500
func (s *Server) FailNextSessions(n int) {
	s.mu.Lock()
	s.failSessions = n
	s.mu.Unlock()
}

// SetContentsFailure makes untitled-file creation fail for matching dirs
func (s *Server) SetContentsFailure(fn func(dir string) bool) {
	s.mu.Lock()
	s.contentsFail = fn
	s.mu.Unlock()
}

// SetDebugHandler installs the DAP responder used for debug_request
func (s *Server) SetDebugHandler(h DebugHandler) {
	s.mu.Lock()
	s.debugHandler = h
	s.mu.Unlock()
}

// AddKernel registers a running kernel (for attach tests) and returns its id
func (s *Server) AddKernel(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.kernels[id] = &kernel{model: kernelModel{ID: id, Name: name, ExecutionState: "idle"}}
	return id
}

// Files returns the contents paths that currently exist
func (s *Server) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for f := range s.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SessionRequests returns all session creation requests received
func (s *Server) SessionRequests() []SessionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SessionRequest(nil), s.sessionRequests...)
}

// DeletedSessions returns ids of sessions deleted through the API
func (s *Server) DeletedSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletedSessions...)
}

// KernelCount returns the number of running kernels
func (s *Server) KernelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kernels)
}

// PublishStatus pushes an iopub status message to every socket of a kernel
func (s *Server) PublishStatus(kernelID, state string) {
	s.mu.Lock()
	k := s.kernels[kernelID]
	var conns []*wsConn
	if k != nil {
		k.model.ExecutionState = state
		conns = append(conns, k.conns...)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.write(message("iopub", "status", map[string]string{"execution_state": state}))
	}
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get("Authorization") != "token "+s.token {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	p := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case strings.HasPrefix(p, "api/contents"):
		s.handleContents(w, r, strings.Trim(strings.TrimPrefix(p, "api/contents"), "/"))
	case p == "api/sessions" && r.Method == http.MethodPost:
		s.handleCreateSession(w, r)
	case strings.HasPrefix(p, "api/sessions/") && r.Method == http.MethodDelete:
		s.handleDeleteSession(w, strings.TrimPrefix(p, "api/sessions/"))
	case strings.HasPrefix(p, "api/kernels"):
		s.handleKernels(w, r, strings.Trim(strings.TrimPrefix(p, "api/kernels"), "/"))
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleContents(w http.ResponseWriter, r *http.Request, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Method {
	case http.MethodPost:
		if s.contentsFail != nil && s.contentsFail(p) {
			http.Error(w, "no such directory", http.StatusNotFound)
			return
		}
		s.untitled++
		name := fmt.Sprintf("Untitled%d.ipynb", s.untitled)
		full := path.Join(p, name)
		s.files[full] = true
		writeJSON(w, http.StatusCreated, map[string]string{"name": name, "path": full, "type": "notebook"})
	case http.MethodPatch:
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !s.files[p] {
			http.Error(w, "bad rename", http.StatusBadRequest)
			return
		}
		if s.files[body.Path] {
			http.Error(w, "exists", http.StatusConflict)
			return
		}
		delete(s.files, p)
		s.files[body.Path] = true
		writeJSON(w, http.StatusOK, map[string]string{"name": path.Base(body.Path), "path": body.Path, "type": "notebook"})
	case http.MethodDelete:
		if !s.files[p] {
			http.Error(w, "missing", http.StatusNotFound)
			return
		}
		delete(s.files, p)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path   string            `json:"path"`
		Name   string            `json:"name"`
		Type   string            `json:"type"`
		Kernel map[string]string `json:"kernel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionRequests = append(s.sessionRequests, SessionRequest{Path: body.Path, Name: body.Name, KernelName: body.Kernel["name"]})
	if s.failSessions > 0 {
		s.failSessions--
		http.Error(w, "kernel failed to start", http.StatusInternalServerError)
		return
	}
	k := &kernel{model: kernelModel{ID: uuid.NewString(), Name: body.Kernel["name"], ExecutionState: "starting"}}
	s.kernels[k.model.ID] = k
	sess := sessionModel{ID: uuid.NewString(), Path: body.Path, Name: body.Name, Type: body.Type, Kernel: k.model}
	s.sessions[sess.ID] = sess
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	var conns []*wsConn
	if ok {
		delete(s.sessions, id)
		if k := s.kernels[sess.Kernel.ID]; k != nil {
			conns = k.conns
		}
		delete(s.kernels, sess.Kernel.ID)
		s.deletedSessions = append(s.deletedSessions, id)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "missing", http.StatusNotFound)
		return
	}
	for _, c := range conns {
		_ = c.write(message("iopub", "status", map[string]string{"execution_state": "dead"}))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKernels(w http.ResponseWriter, r *http.Request, p string) {
	parts := strings.Split(p, "/")
	if p == "" {
		s.mu.Lock()
		var models []kernelModel
		for _, k := range s.kernels {
			models = append(models, k.model)
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, models)
		return
	}
	s.mu.Lock()
	k := s.kernels[parts[0]]
	s.mu.Unlock()
	if k == nil {
		http.Error(w, "no such kernel", http.StatusNotFound)
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.mu.Lock()
		model := k.model
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, model)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.mu.Lock()
		delete(s.kernels, parts[0])
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "restart":
		go func() {
			s.PublishStatus(parts[0], "restarting")
			s.PublishStatus(parts[0], "idle")
		}()
		writeJSON(w, http.StatusOK, k.model)
	case len(parts) == 2 && parts[1] == "interrupt":
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "channels":
		s.serveChannels(w, r, k)
	default:
		http.NotFound(w, r)
	}
}

func message(channel, msgType string, content any) map[string]any {
	return map[string]any{
		"header": map[string]string{
			"msg_id":   uuid.NewString(),
			"msg_type": msgType,
			"session":  "fake-kernel",
			"username": "kernel",
			"version":  "5.3",
		},
		"parent_header": map[string]any{},
		"metadata":      map[string]any{},
		"content":       content,
		"channel":       channel,
		"buffers":       []any{},
	}
}

func (s *Server) serveChannels(w http.ResponseWriter, r *http.Request, k *kernel) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	s.mu.Lock()
	k.conns = append(k.conns, c)
	s.mu.Unlock()

	defer conn.Close()
	for {
		var msg struct {
			Header struct {
				MsgType string `json:"msg_type"`
			} `json:"header"`
			Content json.RawMessage `json:"content"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Header.MsgType {
		case "kernel_info_request":
			s.answerKernelInfo(c, k)
		case "debug_request":
			s.answerDebug(c, msg.Content)
		}
	}
}

func (s *Server) answerKernelInfo(c *wsConn, k *kernel) {
	s.mu.Lock()
	delay := s.idleDelay
	neverIdle := s.neverIdle
	k.model.ExecutionState = "busy"
	s.mu.Unlock()

	_ = c.write(message("iopub", "status", map[string]string{"execution_state": "busy"}))
	_ = c.write(message("shell", "kernel_info_reply", map[string]any{"status": "ok", "implementation": "fake"}))
	if neverIdle {
		return
	}
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		s.mu.Lock()
		k.model.ExecutionState = "idle"
		s.mu.Unlock()
		_ = c.write(message("iopub", "status", map[string]string{"execution_state": "idle"}))
	}()
}

func (s *Server) answerDebug(c *wsConn, request json.RawMessage) {
	s.mu.Lock()
	h := s.debugHandler
	s.mu.Unlock()
	if h == nil {
		h = EchoDebugHandler
	}
	reply, events := h(request)
	if reply != nil {
		_ = c.write(message("control", "debug_reply", reply))
	}
	for _, ev := range events {
		_ = c.write(message("iopub", "debug_event", ev))
	}
}

// EchoDebugHandler answers every request with an empty successful response
func EchoDebugHandler(request json.RawMessage) (json.RawMessage, []json.RawMessage) {
	var req struct {
		Seq     int    `json:"seq"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(request, &req); err != nil {
		return nil, nil
	}
	reply, _ := json.Marshal(map[string]any{
		"seq":         req.Seq + 1000,
		"type":        "response",
		"request_seq": req.Seq,
		"success":     true,
		"command":     req.Command,
		"body":        map[string]any{},
	})
	return reply, nil
}
