package viewer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"render-viewer/internal/platform/metrics"
)

// Debounce defaults for training-driven updates during camera movement.
const (
	defaultMoveDebounce    = 100 * time.Millisecond
	defaultDebouncePoll    = 10 * time.Millisecond
	defaultDebounceMaxWait = 500 * time.Millisecond
)

// ControlPanel is the GUI surface the transport exposes. Control inputs
// feed the coordinator; the coordinator pushes control visibility and the
// stats line back out. Implementations broadcast to every connected
// client.
type ControlPanel interface {
	OnPause(fn func())
	OnResume(fn func())
	OnMaxRenderRes(fn func(res int))

	// SetTrainingControls toggles whether the training controls show at
	// all and, when they do, which of pause/resume is offered.
	SetTrainingControls(visible, paused bool)

	SetStatsText(text string)
}

// Coordinator owns the per-client render schedulers, routes camera and
// training-step triggers to them, and runs the lifecycle state machine.
// It is safe to use from the transport's callback goroutines and the
// host's training loop at the same time.
type Coordinator struct {
	mode     Mode
	renderFn RenderFunc
	config   *RenderConfig
	log      *slog.Logger
	metrics  *metrics.Metrics // may be nil to disable metric recording

	// renderMu is the single process-wide render lock. Every callback
	// invocation from every client goes through it.
	renderMu sync.Mutex

	mu         sync.RWMutex
	clients    map[ClientID]*RenderClient
	status     Status
	step       int
	lastUpdate time.Time
	panel      ControlPanel

	// Debounce knobs, defaulted in NewCoordinator; tests shrink them.
	moveDebounce    time.Duration
	debouncePoll    time.Duration
	debounceMaxWait time.Duration
}

// NewCoordinator returns a coordinator in the given mode. config may be
// nil for defaults; metrics may be nil to disable metric recording.
func NewCoordinator(mode Mode, renderFn RenderFunc, config *RenderConfig, log *slog.Logger, met *metrics.Metrics) *Coordinator {
	if config == nil {
		config = NewRenderConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	status := StatusTraining
	if mode == ModeRendering {
		status = StatusRendering
	}
	return &Coordinator{
		mode:            mode,
		renderFn:        renderFn,
		config:          config,
		log:             log,
		metrics:         met,
		clients:         make(map[ClientID]*RenderClient),
		status:          status,
		lastUpdate:      time.Now(),
		moveDebounce:    defaultMoveDebounce,
		debouncePoll:    defaultDebouncePoll,
		debounceMaxWait: defaultDebounceMaxWait,
	}
}

// Config returns the shared render configuration.
func (c *Coordinator) Config() *RenderConfig { return c.config }

// Status returns the current lifecycle status.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Step returns the last training step passed to Update.
func (c *Coordinator) Step() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.step
}

// ClientCount returns the number of connected clients.
func (c *Coordinator) ClientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// BindPanel attaches the GUI control surface: pause/resume buttons and the
// max-resolution slider feed the coordinator, and the initial control
// visibility is pushed out. Call once during wiring, before clients
// connect.
func (c *Coordinator) BindPanel(panel ControlPanel) {
	c.mu.Lock()
	c.panel = panel
	c.mu.Unlock()

	panel.OnPause(func() {
		if err := c.Pause(); err != nil {
			c.log.Warn("pause rejected", "error", err)
		}
	})
	panel.OnResume(func() {
		if err := c.Resume(); err != nil {
			c.log.Warn("resume rejected", "error", err)
		}
	})
	panel.OnMaxRenderRes(func(res int) {
		if err := c.config.SetMaxRenderRes(res); err != nil {
			c.log.Warn("max render resolution rejected", "res", res, "error", err)
			return
		}
		c.log.Debug("max render resolution set", "res", res)
	})

	panel.SetTrainingControls(c.mode == ModeTraining, false)
}

// Connect creates a render scheduler for a new client and subscribes it to
// the client's camera movement events.
func (c *Coordinator) Connect(client ClientHandle) {
	rc := newRenderClient(client, c.renderFn, c.config, &c.renderMu)

	c.mu.Lock()
	c.clients[client.ID()] = rc
	n := len(c.clients)
	c.mu.Unlock()

	client.OnCameraMoved(func() error {
		err := rc.OnCameraMoved()
		if c.metrics != nil {
			if err != nil {
				c.metrics.IncRenderErrors()
			} else {
				c.metrics.IncPreviewRenders()
			}
		}
		return err
	})

	if c.metrics != nil {
		c.metrics.SetConnectedClients(n)
	}
	c.log.Info("client connected", "client_id", string(client.ID()), "clients", n)
}

// Disconnect removes a client's scheduler. Unknown ids are a silent no-op:
// teardown races against in-flight renders and must never fail. A render
// already executing for the client completes and drops its publish.
func (c *Coordinator) Disconnect(id ClientID) {
	c.mu.Lock()
	_, ok := c.clients[id]
	delete(c.clients, id)
	n := len(c.clients)
	c.mu.Unlock()

	if !ok {
		return
	}
	if c.metrics != nil {
		c.metrics.SetConnectedClients(n)
	}
	c.log.Info("client disconnected", "client_id", string(id), "clients", n)
}

// LastMoved reports the most recent camera movement across all connected
// clients, or the zero time with no clients.
func (c *Coordinator) LastMoved() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var last time.Time
	for _, rc := range c.clients {
		if t := rc.LastMoved(); t.After(last) {
			last = t
		}
	}
	return last
}

// Update is called by the host once per training step. It is an error on a
// rendering-mode coordinator and a no-op unless the status is Training.
// Each connected client gets a full-resolution render if sceneChanged is
// true or if it has not rendered since the previous update cycle; clients
// that already rendered this cycle via camera movement are skipped. The
// last-update timestamp advances after dispatch regardless of how many
// renders were triggered.
func (c *Coordinator) Update(step int, sceneChanged bool) error {
	if c.mode == ModeRendering {
		return ErrRenderingMode
	}

	c.mu.Lock()
	if c.status != StatusTraining {
		c.mu.Unlock()
		return nil
	}
	c.step = step
	prevUpdate := c.lastUpdate
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetTrainingStep(step)
	}

	c.holdForMovement()

	// The dispatch start becomes the new last-update mark, so renders
	// stamped during this pass count as "since the last update" and an
	// immediate second Update triggers nothing.
	dispatchStart := time.Now()

	c.mu.RLock()
	scheds := make([]*RenderClient, 0, len(c.clients))
	for _, rc := range c.clients {
		scheds = append(scheds, rc)
	}
	c.mu.RUnlock()

	var errs []error
	for _, rc := range scheds {
		if !sceneChanged && !rc.LastRender().Before(prevUpdate) {
			continue
		}
		if err := rc.Render(1.0); err != nil {
			errs = append(errs, err)
			if c.metrics != nil {
				c.metrics.IncRenderErrors()
			}
			continue
		}
		if c.metrics != nil {
			c.metrics.IncFullRenders()
		}
	}

	c.mu.Lock()
	c.lastUpdate = dispatchStart
	c.mu.Unlock()

	return errors.Join(errs...)
}

// holdForMovement delays a training-driven update while any client is
// actively moving its camera, so the full render does not stomp on the
// fast preview mid-interaction. A soft hold, not a hard block: it gives up
// after debounceMaxWait and pushes anyway.
func (c *Coordinator) holdForMovement() {
	deadline := time.Now().Add(c.debounceMaxWait)
	for time.Since(c.LastMoved()) < c.moveDebounce && time.Now().Before(deadline) {
		time.Sleep(c.debouncePoll)
	}
}

// Pause suspends training-driven updates and flips the controls to offer
// Resume. Rejected outside the Training status.
func (c *Coordinator) Pause() error {
	if err := c.transition(StatusPaused); err != nil {
		return err
	}
	c.setTrainingControls(true, true)
	c.log.Info("training paused", "step", c.Step())
	return nil
}

// Resume restores training-driven updates and the pre-pause control
// visibility. Rejected outside the Paused status.
func (c *Coordinator) Resume() error {
	if err := c.transition(StatusTraining); err != nil {
		return err
	}
	c.setTrainingControls(true, false)
	c.log.Info("training resumed", "step", c.Step())
	return nil
}

// Complete is the one-way transition to Completed: training updates stop
// for good, training controls disappear, and a terminal status line with
// the final step count goes to every client's stats display. Camera-driven
// previews keep working so the finished result stays navigable.
func (c *Coordinator) Complete() error {
	if err := c.transition(StatusCompleted); err != nil {
		return err
	}
	step := c.Step()
	c.setTrainingControls(false, false)
	c.publishStats(map[string]any{"status": "completed", "step": step})
	c.log.Info("training completed", "step", step)
	return nil
}

// UpdateMetrics renders a label→value mapping as a compact status line on
// every client's stats display.
func (c *Coordinator) UpdateMetrics(values map[string]any) {
	c.publishStats(values)
}

func (c *Coordinator) publishStats(values map[string]any) {
	c.mu.RLock()
	panel := c.panel
	c.mu.RUnlock()
	if panel != nil {
		panel.SetStatsText(StatsLine(values))
	}
}

func (c *Coordinator) setTrainingControls(visible, paused bool) {
	c.mu.RLock()
	panel := c.panel
	c.mu.RUnlock()
	if panel != nil {
		panel.SetTrainingControls(visible, paused)
	}
}

func (c *Coordinator) transition(to Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.canTransition(to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, c.status, to)
	}
	c.status = to
	return nil
}
