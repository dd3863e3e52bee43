package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/sdrecord/internal/audio"
	"github.com/audiolibrelab/sdrecord/internal/config"
	"github.com/audiolibrelab/sdrecord/internal/encoder"
	"github.com/audiolibrelab/sdrecord/internal/recorder"
	"github.com/audiolibrelab/sdrecord/internal/service"
	"github.com/audiolibrelab/sdrecord/internal/sink"
)

// Server represents the web remote for the recorder
type Server struct {
	service       service.Service
	cfg           *config.Config
	configFile    string
	port          string
	activeProfile string

	wsUpgrader websocket.Upgrader

	clientsMutex sync.Mutex
	clients      map[*websocket.Conn]struct{}
	clientsDone  sync.WaitGroup
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status        string              `json:"status"`
	Message       string              `json:"message,omitempty"`
	ElapsedMs     int64               `json:"elapsed_ms"`
	Session       *recorder.Session   `json:"session,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	Config        *ResolvedConfigInfo `json:"resolved_config"`
	ActiveProfile string              `json:"active_profile"`
	Volume        *sink.VolumeUsage   `json:"volume,omitempty"`
}

// ResolvedConfigInfo contains configuration information for the UI
type ResolvedConfigInfo struct {
	OutputDir     string `json:"output_dir"`
	SampleRate    int    `json:"sample_rate"`
	ChannelLayout string `json:"channel_layout"`
	BitDepth      int    `json:"bit_depth"`
	Profile       string `json:"profile"`
	MaxDuration   string `json:"max_duration"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Backends []audio.BackendType `json:"backends"`
	Devices  []audio.Device      `json:"devices"`
	Error    string              `json:"error,omitempty"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files               []service.RecordingInfo `json:"files"`
	TotalCount          int                     `json:"total_count"`
	OutputDirectory     string                  `json:"output_directory"`
	SupportedExtensions []string                `json:"supported_extensions"`
}

// ProfilesResponse represents the JSON response for profiles endpoint
type ProfilesResponse struct {
	Profiles      []string `json:"profiles"`
	ActiveProfile string   `json:"active_profile"`
}

// WebSocketMessage represents a message sent via WebSocket
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Data      *service.Status `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// New creates a new web server instance around a running service
func New(svc service.Service, configFile string, port string) *Server {
	return &Server{
		service:       svc,
		cfg:           svc.GetConfig(),
		configFile:    configFile,
		port:          port,
		activeProfile: getActiveProfileName(configFile),
		clients:       make(map[*websocket.Conn]struct{}),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the remote is served from the device itself
			},
		},
	}
}

// Handler returns the routes of the web remote
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/start", s.handleStartRecording)
	mux.HandleFunc("/stop", s.handleStopRecording)
	mux.HandleFunc("/toggle", s.handleToggle)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/files/download/", s.handleFileDownload)
	return mux
}

// Start serves the web remote until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+s.port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.port, err)
	}

	localIP := getLocalIP()

	slog.Info("Starting recorder web remote",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	return s.serve(ctx, listener)
}

func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down web server: %w", err)
	}
	// Hijacked websocket connections are not tracked by Shutdown
	s.closeClients()
	s.clientsDone.Wait()
	return nil
}

func (s *Server) addClient(conn *websocket.Conn) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	s.clients[conn] = struct{}{}
	s.clientsDone.Add(1)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		s.clientsDone.Done()
	}
	conn.Close()
}

func (s *Server) closeClients() {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	for conn := range s.clients {
		conn.Close()
	}
}

// handleIndex serves the main web UI
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

// handleStartRecording starts a session. The optional "name" form value
// replaces the configured file template.
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data", "error", err)
		return
	}
	name := r.FormValue("name")

	session, err := s.service.StartRecording(name)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrAlreadyActive) {
			code = http.StatusConflict
		}
		s.sendErrorResponse(w, code,
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "start_recording", "name", name)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"session": session,
	})
}

// handleStopRecording stops the current recording session
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := s.service.StopRecording(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrNotActive) {
			code = http.StatusConflict
		}
		s.sendErrorResponse(w, code,
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Recording stopped",
	})
}

// handleToggle presses the record button
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.service.Toggle()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "Toggle queued",
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := s.service.GetRecordingStatus()

	response := StatusResponse{
		Status:        string(status.State),
		Message:       generateStatusMessage(status),
		ElapsedMs:     status.ElapsedMs,
		Session:       status.Session,
		LastError:     status.LastError,
		Config:        s.getResolvedConfigInfo(),
		ActiveProfile: s.activeProfile,
	}

	if usage, err := s.service.Volume(); err == nil {
		response.Volume = &usage
	} else {
		slog.Debug("Volume usage unavailable", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func generateStatusMessage(status service.Status) string {
	switch status.State {
	case recorder.StateRecording:
		if status.Session != nil {
			return fmt.Sprintf("Recording %s (%ds)", filepath.Base(status.Session.OutputPath), status.ElapsedMs/1000)
		}
		return "Recording"
	case recorder.StateBusy:
		return "Finalizing recording"
	case recorder.StateError:
		return "Recording failed"
	default:
		if status.LastError != "" {
			return "Ready (last recording failed)"
		}
		return "Ready"
	}
}

func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	return &ResolvedConfigInfo{
		OutputDir:     s.cfg.Output.Directory,
		SampleRate:    s.cfg.Audio.SampleRate,
		ChannelLayout: s.cfg.Audio.ChannelLayout,
		BitDepth:      s.cfg.Audio.BitDepth,
		Profile:       s.cfg.Encoder.Profile,
		MaxDuration:   s.cfg.Recorder.MaxDuration.String(),
	}
}

// handleEvents streams a status message on every recorder state change
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	s.addClient(conn)
	defer s.removeClient(conn)

	updates, unsubscribe := s.service.Subscribe()
	defer unsubscribe()

	// The reader only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := s.service.GetRecordingStatus()
	if err := sendMessage(conn, WebSocketMessage{Type: "status", Data: &initial}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			if err := sendMessage(conn, WebSocketMessage{Type: "state_change", Data: &status}); err != nil {
				slog.Debug("WebSocket client gone", "error", err)
				return
			}
		}
	}
}

func sendMessage(conn *websocket.Conn, message WebSocketMessage) error {
	message.Timestamp = time.Now().Unix()
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// handleSources lists capture backends and PulseAudio sources
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := SourcesResponse{
		Backends: audio.GetAvailableBackends(),
		Devices:  []audio.Device{},
	}

	if audio.PulseAvailable() {
		devices, err := audio.ListPulseSources()
		if err != nil {
			response.Error = err.Error()
		} else {
			response.Devices = devices
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := ProfilesResponse{Profiles: []string{}, ActiveProfile: s.activeProfile}
	if rootConfig, err := config.ReadRootConfig(s.configFile); err == nil {
		response.Profiles = rootConfig.Profiles()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleFiles lists the recordings on the output volume
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	files, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err),
			"operation", "list_recordings")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FilesResponse{
		Files:               files,
		TotalCount:          len(files),
		OutputDirectory:     s.cfg.Output.Directory,
		SupportedExtensions: supportedExtensions(),
	})
}

// handleFileDownload serves a recording for download
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	filePath, err := s.service.RecordingPath(filename)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidName):
			http.Error(w, "Invalid filename", http.StatusBadRequest)
		case errors.Is(err, service.ErrRecordingNotFound):
			http.Error(w, "File not found", http.StatusNotFound)
		default:
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}

	// The session being written is not downloadable until it is finalized
	if status := s.service.GetRecordingStatus(); status.Session != nil &&
		filepath.Clean(status.Session.OutputPath) == filepath.Clean(filePath) {
		http.Error(w, "Recording in progress", http.StatusConflict)
		return
	}

	file, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filepath.Base(filePath)))
	http.ServeContent(w, r, filepath.Base(filePath), info.ModTime(), file)
}

func supportedExtensions() []string {
	var exts []string
	for _, profile := range encoder.Profiles() {
		if ext, err := encoder.Extension(profile); err == nil {
			exts = append(exts, ext)
		}
	}
	return exts
}

// getActiveProfileName returns the active profile name from config file
func getActiveProfileName(configFile string) string {
	if configFile == "" {
		return ""
	}
	if _, err := os.Stat(configFile); err != nil {
		return "default"
	}

	rootConfig, err := config.ReadRootConfig(configFile)
	if err != nil {
		slog.Warn("Failed to read config file for active profile", "error", err)
		return ""
	}

	if rootConfig.ActiveConfig == "" {
		return "default"
	}
	return rootConfig.ActiveConfig
}

// sendErrorResponse logs and sends a JSON error response
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
