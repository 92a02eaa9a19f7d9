package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"i4.energy/across/espmqtt/at"
	"i4.energy/across/espmqtt/modem"
)

// Gateway is the part of the modem the HTTP server and the relay use.
type Gateway interface {
	Publish(ctx context.Context, topic, message string) error
	QuerySubscriptions(ctx context.Context) ([]at.Subscription, error)
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger  *slog.Logger
	Modem   Gateway
	Limiter *rate.Limiter
	Metrics *Metrics
	// Topic is used when a publish request does not name one.
	Topic string
	// Registry backs GET /metrics. Nil disables the route.
	Registry *prometheus.Registry
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// on the modem routes.
	Token string
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /publish", s.authorized(s.handlePublish))
	mux.HandleFunc("GET /subscriptions", s.authorized(s.handleSubscriptions))
	if s.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	if s.Token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
			s.sendError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// publishStatus maps a modem error to the HTTP status reported to callers.
func publishStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, modem.ErrEmptyArgument), errors.Is(err, modem.ErrCommandTooLong):
		return http.StatusBadRequest
	case errors.Is(err, modem.ErrRejected):
		return http.StatusBadGateway
	case errors.Is(err, modem.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handlePublish processes incoming HTTP POST requests to publish a message
// through the modem
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	type PublishRequest struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Message == "" {
		s.sendError(w, "'message' field is required", http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		req.Topic = s.Topic
	}

	if s.Limiter != nil && !s.Limiter.Allow() {
		s.Metrics.ObservePublish("http", errRateLimited)
		s.sendError(w, "publish rate exceeded", http.StatusTooManyRequests)
		return
	}

	err := s.Modem.Publish(r.Context(), req.Topic, req.Message)
	s.Metrics.ObservePublish("http", err)
	if err != nil {
		s.Logger.Error("Failed to publish message", "error", err, "topic", req.Topic)
		s.sendError(w, err.Error(), publishStatus(err))
		return
	}

	s.Logger.Info("Message published successfully", "topic", req.Topic, "message_length", len(req.Message))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.Modem.QuerySubscriptions(r.Context())
	if err != nil {
		s.Logger.Error("Failed to query subscriptions", "error", err)
		s.sendError(w, err.Error(), publishStatus(err))
		return
	}
	if subs == nil {
		subs = []at.Subscription{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subs)
}
