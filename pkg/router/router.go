// Package router serves live wizard components over HTTP and WebSocket.
package router

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/pool"
	"github.com/Anvisninger/signup-flow/pkg/protocol"
	"github.com/Anvisninger/signup-flow/pkg/security"
	"github.com/Anvisninger/signup-flow/pkg/transport"
)

// Common router errors.
var (
	ErrNilRenderer = errors.New("component returned nil renderer")
	ErrNotJoined   = errors.New("session has not joined")
)

// Router handles HTTP routing for live components.
type Router struct {
	mux          *http.ServeMux
	middleware   []Middleware
	errorHandler ErrorHandler

	sessions *SessionManager
	sockets  *core.SocketManager

	transportConfig *transport.TransportConfig
	origins         *security.OriginPolicy
	logger          logging.Logger

	mu sync.RWMutex
}

// LiveRoute defines a route that renders a live component.
type LiveRoute struct {
	Path string

	// Component creates one component instance per HTTP render or socket.
	Component func() core.Component

	Middleware []Middleware
}

// Middleware is a function that wraps an HTTP handler.
type Middleware func(http.Handler) http.Handler

// ErrorHandler handles errors during request processing.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// New creates a new router.
func New() *Router {
	r := &Router{
		mux:             http.NewServeMux(),
		middleware:      make([]Middleware, 0),
		sessions:        NewSessionManager(),
		sockets:         core.NewSocketManager(),
		transportConfig: transport.DefaultTransportConfig(),
		logger:          logging.NopLogger{},
	}
	r.errorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		logging.L(req.Context()).Error("live render failed", logging.Err(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
	return r
}

// Use adds middleware to the router.
func (r *Router) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// SetErrorHandler sets the error handler.
func (r *Router) SetErrorHandler(handler ErrorHandler) {
	r.errorHandler = handler
}

// SetLogger sets the logger sessions log through.
func (r *Router) SetLogger(logger logging.Logger) {
	r.logger = logging.OrNop(logger)
}

// SetOrigins sets the cross-origin allow-list for socket upgrades.
func (r *Router) SetOrigins(policy *security.OriginPolicy) {
	r.origins = policy
}

// SetTransportConfig overrides the WebSocket transport settings.
func (r *Router) SetTransportConfig(config *transport.TransportConfig) {
	r.transportConfig = config
}

// SetSessionConfig replaces the session manager. Call it before serving.
func (r *Router) SetSessionConfig(config *SessionManagerConfig) {
	r.sessions = NewSessionManagerWithConfig(config)
}

// Sessions returns the session manager.
func (r *Router) Sessions() *SessionManager {
	return r.sessions
}

// SocketManager returns the socket manager.
func (r *Router) SocketManager() *core.SocketManager {
	return r.sockets
}

// Live registers a live component route.
func (r *Router) Live(path string, component func() core.Component, opts ...RouteOption) {
	route := &LiveRoute{
		Path:       path,
		Component:  component,
		Middleware: make([]Middleware, 0),
	}
	for _, opt := range opts {
		opt(route)
	}

	r.mux.HandleFunc(path, r.handleLive(route))
}

// Handle registers a standard HTTP handler behind the global middleware.
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, r.wrap(handler))
}

// HandleFunc registers a standard HTTP handler function.
func (r *Router) HandleFunc(pattern string, handler http.HandlerFunc) {
	r.Handle(pattern, handler)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Shutdown closes every live session and waits for them to terminate.
func (r *Router) Shutdown(ctx context.Context) error {
	return r.sockets.Shutdown(ctx)
}

// StartCleanup closes sessions idle past their TTL every interval until stop
// is closed.
func (r *Router) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range r.sessions.Expired() {
					r.logger.Info("closing idle session", logging.String("socket", s.SocketID))
					s.Socket.Close()
				}
			case <-stop:
				return
			}
		}
	}()
}

func (r *Router) wrap(h http.Handler, route ...Middleware) http.Handler {
	for i := len(route) - 1; i >= 0; i-- {
		h = route[i](h)
	}

	r.mu.RLock()
	middleware := make([]Middleware, len(r.middleware))
	copy(middleware, r.middleware)
	r.mu.RUnlock()

	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

func (r *Router) handleLive(route *LiveRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		inner := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			r.renderLive(w, req, route)
		})
		r.wrap(inner, route.Middleware...).ServeHTTP(w, req)
	}
}

// renderLive answers the first HTTP render, or upgrades to a live session.
func (r *Router) renderLive(w http.ResponseWriter, req *http.Request, route *LiveRoute) {
	if isWebSocketRequest(req) {
		r.handleWebSocket(w, req, route.Component())
		return
	}

	component := route.Component()
	ctx := req.Context()

	if err := component.Mount(ctx, extractParams(req), extractSession(req)); err != nil {
		r.errorHandler(w, req, err)
		return
	}

	renderer := component.Render(ctx)
	if renderer == nil {
		r.errorHandler(w, req, ErrNilRenderer)
		return
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if err := renderer.Render(ctx, buf); err != nil {
		r.errorHandler(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request, component core.Component) {
	log := logging.L(req.Context())

	codec, err := protocol.ForVersion(req.URL.Query().Get("vsn"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws := transport.NewWebSocketTransport(r.transportConfig, transport.WebSocketConfig{
		Origins: r.origins,
		Codec:   codec,
		Logger:  r.logger,
	})
	if err := ws.Upgrade(w, req); err != nil {
		log.Warn("websocket upgrade failed", logging.String("origin", req.Header.Get("Origin")), logging.Err(err))
		return
	}

	socketID := generateSocketID()
	socket := core.NewSocket(socketID, NewTransportAdapter(ws))

	if sa, ok := component.(core.SocketAware); ok {
		sa.SetSocket(socket)
	}

	params := extractParams(req)
	session := extractSession(req)

	lv, evicted := r.sessions.Create(socketID, component, params, session)
	lv.Transport = ws
	lv.Socket = socket
	if evicted != nil && evicted.Socket != nil {
		evicted.Socket.Close()
	}

	r.sockets.Add(socket)

	logger := r.logger.With(
		logging.String("socket", socketID),
		logging.String("codec", codec.Name()),
	)
	logger.Info("live session opened")

	// the session outlives the upgrade request
	ctx := logging.ContextWithLogger(context.Background(), logger)

	go r.messageLoop(ctx, lv)
}

// messageLoop owns the component: client events, info messages and
// renders are handled one at a time.
func (r *Router) messageLoop(ctx context.Context, lv *LiveSession) {
	reason := core.TerminateNormal
	defer func() {
		if r.sockets.IsShutdown() {
			reason = core.TerminateShutdown
		}
		r.handleDisconnect(ctx, lv, reason)
	}()

	for {
		select {
		case msg := <-lv.Transport.Receive():
			lv.UpdateActivity()
			lv.Socket.UpdateActivity()

			switch msg.Event {
			case protocol.EventHeartbeat:
				r.sendReply(ctx, lv, msg, nil)

			case protocol.EventJoin:
				r.handleJoin(ctx, lv, msg)

			case protocol.EventLeave:
				return

			default:
				if !lv.IsMounted() {
					r.sendError(ctx, lv, msg, ErrNotJoined)
					continue
				}
				payload := msg.Payload
				if payload == nil {
					payload = make(map[string]any)
				}
				if err := lv.Component.HandleEvent(ctx, msg.Event, payload); err != nil {
					logging.L(ctx).Warn("event rejected", logging.String("event", msg.Event), logging.Err(err))
					r.sendError(ctx, lv, msg, err)
					continue
				}
				r.renderAndSend(ctx, lv)
			}

		case info := <-lv.Socket.Info():
			if err := lv.Component.HandleInfo(ctx, info); err != nil {
				logging.L(ctx).Warn("info handling failed", logging.Err(err))
			}
			r.renderAndSend(ctx, lv)

		case <-lv.Transport.CloseChan():
			return

		case <-lv.Socket.Done():
			return

		case <-ctx.Done():
			reason = core.TerminateShutdown
			return
		}
	}
}

func (r *Router) handleJoin(ctx context.Context, lv *LiveSession, msg *protocol.Message) {
	if !lv.IsMounted() {
		if err := lv.Component.Mount(ctx, lv.Params, lv.Session); err != nil {
			r.sendError(ctx, lv, msg, err)
			return
		}
		lv.SetMounted(true)
	}

	html, err := render(ctx, lv.Component)
	if err != nil {
		r.sendError(ctx, lv, msg, err)
		return
	}
	lv.rememberRender(html)

	r.sendReply(ctx, lv, msg, map[string]any{"html": html})
}

// renderAndSend pushes a render when the markup changed since the last one.
func (r *Router) renderAndSend(ctx context.Context, lv *LiveSession) {
	html, err := render(ctx, lv.Component)
	if err != nil {
		logging.L(ctx).Error("render failed", logging.Err(err))
		return
	}
	if !lv.rememberRender(html) {
		return
	}
	if err := lv.Socket.SendRender(html); err != nil {
		logging.L(ctx).Debug("render not delivered", logging.Err(err))
	}
}

func render(ctx context.Context, component core.Component) (string, error) {
	renderer := component.Render(ctx)
	if renderer == nil {
		return "", ErrNilRenderer
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if err := renderer.Render(ctx, buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// rememberRender stores the hash of html and reports whether it changed.
func (s *LiveSession) rememberRender(html string) bool {
	h := fnv.New64a()
	h.Write([]byte(html))
	sum := h.Sum64()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderHash == sum && s.rendered {
		return false
	}
	s.renderHash = sum
	s.rendered = true
	return true
}

func (r *Router) handleDisconnect(ctx context.Context, lv *LiveSession, reason core.TerminateReason) {
	if lv.IsMounted() {
		if err := lv.Component.Terminate(ctx, reason); err != nil {
			logging.L(ctx).Warn("terminate failed", logging.Err(err))
		}
	}

	r.sessions.Remove(lv.ID)
	r.sockets.Remove(lv.SocketID)
	lv.Socket.Close()

	logging.L(ctx).Info("live session closed", logging.String("reason", reason.String()))
}

func (r *Router) sendReply(ctx context.Context, lv *LiveSession, msg *protocol.Message, response map[string]any) {
	reply := protocol.Reply(msg.Ref, lv.Topic, protocol.StatusOK, response)
	if err := lv.Transport.Send(reply); err != nil {
		logging.L(ctx).Debug("reply not delivered", logging.Err(err))
	}
}

func (r *Router) sendError(ctx context.Context, lv *LiveSession, msg *protocol.Message, err error) {
	if sendErr := lv.Transport.Send(protocol.ErrorReply(msg.Ref, lv.Topic, err.Error())); sendErr != nil {
		logging.L(ctx).Debug("error reply not delivered", logging.Err(sendErr))
	}
}

// extractSession collects request cookies into the component session.
func extractSession(req *http.Request) core.Session {
	session := make(core.Session)
	for _, cookie := range req.Cookies() {
		session["cookie:"+cookie.Name] = cookie.Value
	}
	if ua := req.UserAgent(); ua != "" {
		session["user_agent"] = ua
	}
	return session
}

// extractParams takes the first value of every query parameter.
func extractParams(req *http.Request) core.Params {
	params := make(core.Params)
	for key, values := range req.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

func isWebSocketRequest(req *http.Request) bool {
	return strings.Contains(strings.ToLower(req.Header.Get("Upgrade")), "websocket")
}

// RouteOption configures a LiveRoute.
type RouteOption func(*LiveRoute)

// WithRouteMiddleware adds middleware to the route.
func WithRouteMiddleware(mw ...Middleware) RouteOption {
	return func(r *LiveRoute) {
		r.Middleware = append(r.Middleware, mw...)
	}
}
