package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"sipphone/engine"
	"sipphone/session"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// Gateway exposes the call session to UI collaborators over HTTP and a
// WebSocket event stream.
type Gateway struct {
	sc       *session.Context
	platform *devicePlatform
	history  *MissedCallLog
	gatherer prometheus.Gatherer
	log      *logrus.Entry
	upgrader websocket.Upgrader
}

// NewGateway creates a new Gateway instance.
func NewGateway(sc *session.Context, p *devicePlatform, h *MissedCallLog, g prometheus.Gatherer, log *logrus.Entry) *Gateway {
	return &Gateway{
		sc:       sc,
		platform: p,
		history:  h,
		gatherer: g,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the gateway listens on a local address only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP routes.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(g.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/calls", g.listCalls)
	r.Post("/calls", g.startCall)
	r.Route("/calls/{id}", func(r chi.Router) {
		r.Post("/answer", g.callAction(g.sc.Answer))
		r.Post("/decline", g.callAction(g.sc.Decline))
		r.Post("/terminate", g.callAction(g.sc.Terminate))
		r.Post("/pause", g.callAction(g.sc.Pause))
		r.Post("/resume", g.callAction(g.sc.Resume))
		r.Post("/video", g.callAction(g.sc.ToggleVideo))
	})
	r.Post("/mic", g.toggleMute)
	r.Post("/permissions/{kind}", g.grantPermission)
	r.Get("/registration", g.registration)
	r.Get("/history", g.missedCalls)
	r.Get("/events", g.serveEvents)
	r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the HTTP server until ctx is canceled.
func (g *Gateway) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: g.Router(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		g.log.Infof("gateway listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		g.log.Info("stopping gateway")
		return srv.Shutdown(shutdownCtx)
	}
}

func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.log.WithField("request_id", middleware.GetReqID(r.Context())).
			Debugf("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

type startCallRequest struct {
	Address   string `json:"address"`
	ForceZRTP bool   `json:"force_zrtp"`
}

func (g *Gateway) listCalls(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.sc.Snapshot())
}

func (g *Gateway) startCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := g.sc.StartCallWith(r.Context(), req.Address, session.CallOptions{ForceZRTP: req.ForceZRTP})
	if err != nil {
		g.fail(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (g *Gateway) callAction(fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), chi.URLParam(r, "id")); err != nil {
			g.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) toggleMute(w http.ResponseWriter, r *http.Request) {
	if err := g.sc.ToggleMute(r.Context()); err != nil {
		g.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) grantPermission(w http.ResponseWriter, r *http.Request) {
	perm := session.Permission(chi.URLParam(r, "kind"))
	if !g.platform.Grant(perm) {
		g.writeError(w, http.StatusNotFound, errors.New("unknown permission "+string(perm)))
		return
	}
	g.log.Infof("%s permission granted", perm)
	g.sc.PermissionGranted(perm)
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) registration(w http.ResponseWriter, r *http.Request) {
	snap := g.sc.Snapshot()
	g.writeJSON(w, http.StatusOK, map[string]any{
		"state":  snap.Registration,
		"status": snap.RegistrationStatus,
	})
}

func (g *Gateway) missedCalls(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.history.Recent())
}

// serveEvents streams session events to one WebSocket client until either
// side goes away.
func (g *Gateway) serveEvents(w http.ResponseWriter, r *http.Request) {
	// subscribe first so nothing published after the handshake is lost
	events, cancel := g.sc.Subscribe(eventBuffer)
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		g.log.Errorf("error while upgrading websocket: %v", err)
		return
	}
	l := g.log.WithField("client_id", uuid.NewString())
	l.Info("event client connected")

	defer func() {
		cancel()
		conn.Close()
		l.Info("event client disconnected")
	}()

	// the client never sends anything; reading detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					l.Warnf("unexpected close: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopped")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				l.Warnf("failed to write %s event: %v", ev.Kind, err)
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoSuchCall), errors.Is(err, session.ErrNoCurrentCall):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrPermissionNeeded):
		return http.StatusForbidden
	case errors.Is(err, session.ErrEmptyAddress), errors.Is(err, session.ErrUnresolvedAddress):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNetworkUnreachable), errors.Is(err, session.ErrNotStarted),
		errors.Is(err, session.ErrStopped), errors.Is(err, engine.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (g *Gateway) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		g.log.Errorf("request failed: %v", err)
	}
	g.writeError(w, status, err)
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, err error) {
	g.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Warnf("failed to encode response: %v", err)
	}
}
