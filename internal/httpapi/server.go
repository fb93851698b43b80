// Package httpapi exposes a node as JSON over HTTP and provides an HTTP
// gossip transport.
//
//	PUT  /kv/{key}   {"value": "..."}  -> PutResponse
//	GET  /kv/{key}                     -> GetResponse (404 with no entries if unknown)
//	POST /gossip     gossip.Message    -> 202 GossipResponse
//	GET  /status                       -> StatusResponse
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gossipstore/internal/api"
	"gossipstore/internal/gossip"
	"gossipstore/internal/reconcile"
)

// maxBodyBytes bounds request bodies; gossip carries the whole store.
const maxBodyBytes = 32 << 20

type server struct {
	svc    api.Service
	logger *zap.Logger
}

type putBody struct {
	Value *string `json:"value"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler returns the HTTP handler for svc.
func Handler(svc api.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{
		svc:    svc,
		logger: logger.Named("http").With(zap.String("node", svc.NodeID())),
	}

	r := mux.NewRouter()
	r.HandleFunc("/kv/{key}", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/kv/{key}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/kv/", s.handlePut).Methods(http.MethodPut)
	r.HandleFunc("/kv/", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/gossip", s.handleGossip).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Use(s.logRequests)
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

func (s *server) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, api.ErrEmptyKey) || errors.Is(err, gossip.ErrEmptyMessage) {
		code = http.StatusBadRequest
	}
	s.writeJSON(w, code, errorBody{Error: err.Error()})
}

func (s *server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var body putBody
	if err := s.readJSON(w, r, &body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if body.Value == nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "value required"})
		return
	}

	entry, err := s.svc.Put(key, *body.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.PutResponse{NodeID: s.svc.NodeID(), Entry: entry})
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	entries, err := s.svc.Get(key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []reconcile.Entry{}
	}

	code := http.StatusOK
	if len(entries) == 0 {
		code = http.StatusNotFound
	}
	s.writeJSON(w, code, api.GetResponse{NodeID: s.svc.NodeID(), Key: key, Entries: entries})
}

func (s *server) handleGossip(w http.ResponseWriter, r *http.Request) {
	var msg gossip.Message
	if err := s.readJSON(w, r, &msg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	report, err := s.svc.Gossip(&msg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := api.GossipResponse{Merged: report.Merged}
	if len(report.Rejected) > 0 {
		resp.Rejected = report.RejectedKeys()
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Status())
}
