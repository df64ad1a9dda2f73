package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/coder/hopperapi/lib/hopper"
	"github.com/coder/hopperapi/lib/logctx"
	"github.com/coder/hopperapi/lib/servo"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/xerrors"
)

// Server represents the HTTP server
type Server struct {
	router   chi.Router
	api      huma.API
	port     int
	srv      *http.Server
	basePath string
	logger   *slog.Logger

	// mu serializes every access to ring; the ring itself is single-threaded.
	mu       sync.Mutex
	ring     *hopper.Ring[hopper.ID]
	registry *hopper.Registry
	recorder *servo.Recorder
	emitter  *EventEmitter
}

type ServerConfig struct {
	Ring     *hopper.Ring[hopper.ID]
	Registry *hopper.Registry
	// Recorder backs GET /actuations. Optional.
	Recorder       *servo.Recorder
	Port           int
	BasePath       string
	AllowedHosts   []string
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, config ServerConfig) (*Server, error) {
	if config.Ring == nil {
		return nil, xerrors.New("a ring is required")
	}
	if config.Registry == nil {
		config.Registry = hopper.NewRegistry()
	}

	router := chi.NewMux()
	router.Use(CheckHost(config.AllowedHosts))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	humaConfig := huma.DefaultConfig("Hopper API", "0.1.0")
	humaConfig.Info.Description = "HTTP API for a servo driven candy dispenser"
	api := humachi.New(router, humaConfig)

	s := &Server{
		router:   router,
		api:      api,
		port:     config.Port,
		basePath: normalizeBasePath(config.BasePath),
		logger:   logctx.From(ctx),
		ring:     config.Ring,
		registry: config.Registry,
		recorder: config.Recorder,
		emitter:  NewEventEmitter(1024),
	}
	s.emitter.UpdateRingAndEmitChanges(s.ringState())

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Get(s.api, "/status", s.getStatus, func(o *huma.Operation) {
		o.Description = "Returns the ring size, the cursor and the selected hopper."
	})
	huma.Get(s.api, "/hoppers", s.getHoppers, func(o *huma.Operation) {
		o.Description = "Returns the hoppers in ring order."
	})
	huma.Post(s.api, "/hoppers", s.addHopper, func(o *huma.Operation) {
		o.Description = "Registers a hopper and inserts it into the ring. The first hopper of an empty ring is always placed at index 0."
	})
	huma.Get(s.api, "/hoppers/{id}", s.getHopper)
	huma.Delete(s.api, "/hoppers/{id}", s.removeHopper)
	huma.Delete(s.api, "/hoppers/at/{index}", s.removeHopperAt)
	huma.Put(s.api, "/cursor", s.setCursor)
	huma.Post(s.api, "/cursor/advance", s.advanceCursor)
	huma.Post(s.api, "/open", s.open, func(o *huma.Operation) {
		o.Description = "Opens the selected hopper, or every hopper on the multi-slot position."
	})
	huma.Post(s.api, "/close", s.close, func(o *huma.Operation) {
		o.Description = "Closes the selected hopper, or every hopper on the multi-slot position."
	})
	huma.Get(s.api, "/actuations", s.getActuations)
	huma.Delete(s.api, "/actuations", s.clearActuations)

	sse.Register(s.api, huma.Operation{
		OperationID: "subscribeEvents",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Subscribe to events",
		Description: "The first event is the current ring state.",
	}, map[string]any{
		string(EventTypeRingUpdate): RingUpdateBody{},
		string(EventTypeActuation):  ActuationBody{},
	}, s.subscribeEvents)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, hopper.ErrEmpty):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, hopper.ErrDuplicateID):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, hopper.ErrSlotNotFound):
		return huma.Error404NotFound(err.Error())
	default:
		return huma.Error500InternalServerError("failed to drive servo", err)
	}
}

// Assumes the caller holds the lock.
func (s *Server) hoppers() []Hopper {
	ids := s.ring.Slots()
	out := make([]Hopper, len(ids))
	for i, h := range s.registry.Resolve(ids) {
		out[i] = Hopper{ID: string(h.ID), Label: h.Label, Color: h.Color, Index: i}
	}
	return out
}

// Assumes the caller holds the lock.
func (s *Server) ringState() RingState {
	channels := s.ring.Channels()
	if channels == nil {
		channels = []int{}
	}
	return RingState{
		Size:     s.ring.Size(),
		Cursor:   s.ring.CurrentIndex(),
		Multi:    s.ring.IsMulti(),
		Channels: channels,
		Hoppers:  s.hoppers(),
	}
}

// Assumes the caller holds the lock.
func (s *Server) publish() {
	s.emitter.UpdateRingAndEmitChanges(s.ringState())
}

// AddHopper registers h and puts it into the ring at index, or at the end
// when index is nil. An empty ring takes the hopper as its first slot.
func (s *Server) AddHopper(h hopper.Hopper, index *int) (Hopper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.registry.Register(h)
	if err != nil {
		return Hopper{}, err
	}
	var pos int
	switch {
	case s.ring.Size() == 0:
		pos = s.ring.AddFirst(h.ID)
	case index == nil:
		pos, err = s.ring.Add(h.ID)
	default:
		pos, err = s.ring.Insert(h.ID, *index)
	}
	if err != nil {
		s.registry.Unregister(h.ID)
		return Hopper{}, err
	}
	s.logger.Info("Added hopper", "id", h.ID, "label", h.Label, "index", pos)
	s.publish()
	return Hopper{ID: string(h.ID), Label: h.Label, Color: h.Color, Index: pos}, nil
}

// getStatus handles GET /status
func (s *Server) getStatus(ctx context.Context, input *struct{}) (*StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &StatusResponse{}
	resp.Body.RingState = s.ringState()
	if resp.Body.Size > 0 {
		current := resp.Body.Hoppers[resp.Body.Cursor]
		resp.Body.Current = &current
	}
	if s.recorder != nil {
		if w, ok := s.recorder.Last(); ok {
			last := toActuation(w)
			resp.Body.LastActuation = &last
		}
	}
	return resp, nil
}

// getHoppers handles GET /hoppers
func (s *Server) getHoppers(ctx context.Context, input *struct{}) (*HoppersResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &HoppersResponse{}
	resp.Body.Hoppers = s.hoppers()
	return resp, nil
}

// addHopper handles POST /hoppers
func (s *Server) addHopper(ctx context.Context, input *AddHopperRequest) (*HopperResponse, error) {
	h, err := s.AddHopper(hopper.Hopper{
		ID:    hopper.ID(input.Body.ID),
		Label: input.Body.Label,
		Color: input.Body.Color,
	}, input.Body.Index)
	if err != nil {
		return nil, toHTTPError(err)
	}
	resp := &HopperResponse{}
	resp.Body.Hopper = h
	return resp, nil
}

// getHopper handles GET /hoppers/{id}
func (s *Server) getHopper(ctx context.Context, input *GetHopperRequest) (*HopperResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := hopper.ID(input.ID)
	h, ok := s.registry.Lookup(id)
	if !ok {
		return nil, toHTTPError(xerrors.Errorf("hopper %q: %w", id, hopper.ErrSlotNotFound))
	}
	index := slices.Index(s.ring.Slots(), id)
	if index < 0 {
		return nil, toHTTPError(xerrors.Errorf("hopper %q: %w", id, hopper.ErrSlotNotFound))
	}
	resp := &HopperResponse{}
	resp.Body.Hopper = Hopper{ID: string(h.ID), Label: h.Label, Color: h.Color, Index: index}
	return resp, nil
}

// removeHopper handles DELETE /hoppers/{id}
func (s *Server) removeHopper(ctx context.Context, input *RemoveHopperRequest) (*OkResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := hopper.ID(input.ID)
	if err := s.ring.Remove(id); err != nil {
		return nil, toHTTPError(err)
	}
	s.registry.Unregister(id)
	s.logger.Info("Removed hopper", "id", id)
	s.publish()

	resp := &OkResponse{}
	resp.Body.Ok = true
	return resp, nil
}

// removeHopperAt handles DELETE /hoppers/at/{index}
func (s *Server) removeHopperAt(ctx context.Context, input *RemoveHopperAtRequest) (*OkResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ring.GetAt(input.Index)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if err := s.ring.RemoveAt(input.Index); err != nil {
		return nil, toHTTPError(err)
	}
	s.registry.Unregister(id)
	s.logger.Info("Removed hopper", "id", id, "index", input.Index)
	s.publish()

	resp := &OkResponse{}
	resp.Body.Ok = true
	return resp, nil
}

// Assumes the caller holds the lock.
func (s *Server) cursorResponse(cursor int) *CursorResponse {
	resp := &CursorResponse{}
	resp.Body.Cursor = cursor
	resp.Body.Multi = s.ring.IsMulti()
	resp.Body.Hopper = s.hoppers()[cursor]
	return resp
}

// setCursor handles PUT /cursor
func (s *Server) setCursor(ctx context.Context, input *SetCursorRequest) (*CursorResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, err := s.ring.SetCursor(input.Body.Index)
	if err != nil {
		return nil, toHTTPError(err)
	}
	s.publish()
	return s.cursorResponse(cursor), nil
}

// advanceCursor handles POST /cursor/advance
func (s *Server) advanceCursor(ctx context.Context, input *struct{}) (*CursorResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cursor, err := s.ring.Advance()
	if err != nil {
		return nil, toHTTPError(err)
	}
	s.publish()
	return s.cursorResponse(cursor), nil
}

func (s *Server) actuate(ctx context.Context, kind ActuationKind) (*ActuationResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = logctx.WithLogger(ctx, s.logger)
	cfg := s.ring.Config()
	body := ActuationBody{
		Kind:     kind,
		Cursor:   s.ring.CurrentIndex(),
		Channels: s.ring.Channels(),
		Position: cfg.OpenPosition,
	}
	var err error
	if kind == ActuationKindOpen {
		err = s.ring.Open(ctx)
	} else {
		body.Position = cfg.ClosePosition
		err = s.ring.Close(ctx)
	}
	if err != nil {
		s.logger.Error("Actuation failed", "kind", kind, "error", err)
		return nil, toHTTPError(err)
	}
	s.logger.Info("Actuated hoppers", "kind", kind, "channels", body.Channels, "position", body.Position)
	s.emitter.EmitActuation(body)

	return &ActuationResponse{Body: body}, nil
}

// open handles POST /open
func (s *Server) open(ctx context.Context, input *struct{}) (*ActuationResponse, error) {
	return s.actuate(ctx, ActuationKindOpen)
}

// close handles POST /close
func (s *Server) close(ctx context.Context, input *struct{}) (*ActuationResponse, error) {
	return s.actuate(ctx, ActuationKindClose)
}

// getActuations handles GET /actuations
func (s *Server) getActuations(ctx context.Context, input *struct{}) (*ActuationsResponse, error) {
	resp := &ActuationsResponse{}
	resp.Body.Actuations = []Actuation{}
	if s.recorder == nil {
		return resp, nil
	}
	for _, w := range s.recorder.Writes() {
		resp.Body.Actuations = append(resp.Body.Actuations, toActuation(w))
	}
	return resp, nil
}

// clearActuations handles DELETE /actuations
func (s *Server) clearActuations(ctx context.Context, input *struct{}) (*OkResponse, error) {
	resp := &OkResponse{}
	if s.recorder != nil {
		s.recorder.Reset()
		resp.Body.Ok = true
	}
	return resp, nil
}

func toActuation(w servo.Write) Actuation {
	return Actuation{
		Channel:  w.Channel,
		Position: w.Position,
		Time:     w.Time,
	}
}

// subscribeEvents handles GET /events
func (s *Server) subscribeEvents(ctx context.Context, input *struct{}, send sse.Sender) {
	subscriberId, ch, stateEvents := s.emitter.Subscribe()
	defer s.emitter.Unsubscribe(subscriberId)
	s.logger.Info("New subscriber", "subscriberId", subscriberId)

	for _, event := range stateEvents {
		if err := send.Data(event.Payload); err != nil {
			s.logger.Error("Failed to send event", "subscriberId", subscriberId, "error", err)
			return
		}
	}
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				s.logger.Info("Channel closed", "subscriberId", subscriberId)
				return
			}
			if err := send.Data(event.Payload); err != nil {
				s.logger.Error("Failed to send event", "subscriberId", subscriberId, "error", err)
				return
			}
		case <-ctx.Done():
			s.logger.Info("Subscriber disconnected", "subscriberId", subscriberId)
			return
		}
	}
}

// GetOpenAPI returns the OpenAPI document as indented JSON
func (s *Server) GetOpenAPI() string {
	jsonBytes, err := json.MarshalIndent(s.api.OpenAPI(), "", "  ")
	if err != nil {
		return ""
	}
	return string(jsonBytes)
}

// Handler returns the root handler, including base path handling
func (s *Server) Handler() http.Handler {
	return StripBasePath(s.basePath)(s.router)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	return s.srv.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}
