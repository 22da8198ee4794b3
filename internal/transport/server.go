package transport

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"render-viewer/internal/viewer"
)

// Server hosts the websocket endpoint clients connect to. It hands each
// connection to the coordinator as a viewer.ClientHandle and implements
// viewer.ControlPanel by broadcasting control state and the stats line to
// every client.
type Server struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu           sync.RWMutex
	clients      map[viewer.ClientID]*Client
	onConnect    []func(viewer.ClientHandle)
	onDisconnect []func(viewer.ClientID)
	onPause      []func()
	onResume     []func()
	onMaxRes     []func(int)

	// Last pushed GUI state, replayed to clients that connect later.
	trainingVisible bool
	paused          bool
	statsText       string
}

// NewServer returns a server with no registered handlers. Wire the
// coordinator with OnClientConnect/OnClientDisconnect and BindPanel
// before serving.
func NewServer(log *slog.Logger) *Server {
	return &Server{
		log:     log,
		clients: make(map[viewer.ClientID]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// OnClientConnect registers fn to run for every new connection.
func (s *Server) OnClientConnect(fn func(viewer.ClientHandle)) {
	s.mu.Lock()
	s.onConnect = append(s.onConnect, fn)
	s.mu.Unlock()
}

// OnClientDisconnect registers fn to run when a connection closes.
func (s *Server) OnClientDisconnect(fn func(viewer.ClientID)) {
	s.mu.Lock()
	s.onDisconnect = append(s.onDisconnect, fn)
	s.mu.Unlock()
}

// OnPause implements viewer.ControlPanel.
func (s *Server) OnPause(fn func()) {
	s.mu.Lock()
	s.onPause = append(s.onPause, fn)
	s.mu.Unlock()
}

// OnResume implements viewer.ControlPanel.
func (s *Server) OnResume(fn func()) {
	s.mu.Lock()
	s.onResume = append(s.onResume, fn)
	s.mu.Unlock()
}

// OnMaxRenderRes implements viewer.ControlPanel.
func (s *Server) OnMaxRenderRes(fn func(int)) {
	s.mu.Lock()
	s.onMaxRes = append(s.onMaxRes, fn)
	s.mu.Unlock()
}

// SetTrainingControls implements viewer.ControlPanel: it records the
// control state and broadcasts it to every connected client.
func (s *Server) SetTrainingControls(visible, paused bool) {
	s.mu.Lock()
	s.trainingVisible = visible
	s.paused = paused
	clients := s.clientListLocked()
	s.mu.Unlock()

	msg := controlsMessage{Type: "controls", TrainingVisible: visible, Paused: paused}
	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			s.log.Debug("controls push failed", "client_id", string(c.id), "error", err)
		}
	}
}

// SetStatsText implements viewer.ControlPanel: it records the stats line
// and broadcasts it to every connected client.
func (s *Server) SetStatsText(text string) {
	s.mu.Lock()
	s.statsText = text
	clients := s.clientListLocked()
	s.mu.Unlock()

	msg := statsMessage{Type: "stats", Text: text}
	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			s.log.Debug("stats push failed", "client_id", string(c.id), "error", err)
		}
	}
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeWS handles GET /ws: it upgrades the connection, announces the new
// client, replays the current GUI state, and runs the read loop until the
// connection drops.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(viewer.ClientID(uuid.NewString()), conn)

	s.mu.Lock()
	s.clients[client.id] = client
	connectFns := append([]func(viewer.ClientHandle){}, s.onConnect...)
	controls := controlsMessage{Type: "controls", TrainingVisible: s.trainingVisible, Paused: s.paused}
	stats := statsMessage{Type: "stats", Text: s.statsText}
	s.mu.Unlock()

	for _, fn := range connectFns {
		fn(client)
	}
	if err := client.writeJSON(controls); err == nil && stats.Text != "" {
		_ = client.writeJSON(stats)
	}

	s.readLoop(client)
}

func (s *Server) readLoop(client *Client) {
	defer s.drop(client)

	for {
		var msg inboundMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "camera":
			client.setPose(msg)
			for _, err := range client.fireMoved() {
				// The movement handler is where render callback failures
				// surface for camera-driven renders.
				s.log.Error("camera render failed",
					"client_id", string(client.id), "error", err)
			}
		case "control":
			s.dispatchControl(client, msg)
		default:
			s.log.Debug("unknown message type",
				"client_id", string(client.id), "type", msg.Type)
		}
	}
}

func (s *Server) dispatchControl(client *Client, msg inboundMessage) {
	s.mu.RLock()
	pauseFns := s.onPause
	resumeFns := s.onResume
	maxResFns := s.onMaxRes
	s.mu.RUnlock()

	switch msg.Name {
	case controlPause:
		for _, fn := range pauseFns {
			fn()
		}
	case controlResume:
		for _, fn := range resumeFns {
			fn()
		}
	case controlMaxRenderRes:
		for _, fn := range maxResFns {
			fn(msg.Value)
		}
	default:
		s.log.Debug("unknown control",
			"client_id", string(client.id), "name", msg.Name)
	}
}

func (s *Server) drop(client *Client) {
	client.close()

	s.mu.Lock()
	delete(s.clients, client.id)
	disconnectFns := append([]func(viewer.ClientID){}, s.onDisconnect...)
	s.mu.Unlock()

	for _, fn := range disconnectFns {
		fn(client.id)
	}
}

func (s *Server) clientListLocked() []*Client {
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients
}
