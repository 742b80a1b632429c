package offlinebroker

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultRetention = 14 * 24 * time.Hour

var errNotANumber = errors.New("offlinebroker: not a positive integer")

// Server is a small in-memory reference implementation of the broker
// protocol, suitable for tests and local demos. It is not a production
// broker: envelopes live only in memory and are lost on restart.
type Server struct {
	mu        sync.Mutex
	envelopes map[string]*storedEnvelope
	byDedup   map[string]string // (messageID, recipientPeerID) -> envelopeID
	retention time.Duration
	now       func() time.Time
	log       *logrus.Entry
}

type storedEnvelope struct {
	Envelope
	createdAt time.Time
}

// NewServer creates a reference broker retaining envelopes for retention
// (0 uses the default of 14 days).
func NewServer(retention time.Duration) *Server {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Server{
		envelopes: make(map[string]*storedEnvelope),
		byDedup:   make(map[string]string),
		retention: retention,
		now:       time.Now,
		log:       logrus.WithField("component", "offlinebroker.server"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/store" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleStore(w, r)
	case http.MethodGet:
		s.handleRetrieve(w, r)
	case http.MethodDelete:
		s.handleAcknowledge(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.RecipientPeerID == "" || req.MessageID == "" {
		http.Error(w, "recipient_peer_id and message_id are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	dedupKey := req.MessageID + "|" + req.RecipientPeerID
	if existingID, ok := s.byDedup[dedupKey]; ok {
		existing := s.envelopes[existingID]
		writeJSON(w, http.StatusOK, storeResponse{
			EnvelopeID: existing.EnvelopeID,
			ExpiresAt:  existing.ExpiresAt,
		})
		return
	}

	id, err := newEnvelopeID()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	now := s.now()
	expiresAt := now.Add(s.retention)

	stored := &storedEnvelope{
		Envelope: Envelope{
			EnvelopeID:       id,
			RecipientPeerID:  req.RecipientPeerID,
			SenderPeerID:     req.SenderPeerID,
			MessageID:        req.MessageID,
			Type:             req.Type,
			EncryptedPayload: req.EncryptedPayload,
			ExpiresAt:        expiresAt.Unix(),
		},
		createdAt: now,
	}
	s.envelopes[id] = stored
	s.byDedup[dedupKey] = id

	s.log.WithField("recipient", req.RecipientPeerID).Debug("envelope stored")
	writeJSON(w, http.StatusCreated, storeResponse{EnvelopeID: id, ExpiresAt: expiresAt.Unix()})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		http.Error(w, "peer_id is required", http.StatusBadRequest)
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	var out []Envelope
	for _, e := range s.envelopes {
		if e.RecipientPeerID == peerID {
			out = append(out, e.Envelope)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt < out[j].ExpiresAt })
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Envelope{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		e, ok := s.envelopes[id]
		if !ok {
			continue
		}
		delete(s.envelopes, id)
		delete(s.byDedup, e.MessageID+"|"+e.RecipientPeerID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// expireLocked drops envelopes past their retention window. It does not
// attempt to detect an in-flight GET racing an expiry; pruning only runs
// on the next store/retrieve call, which is good enough for tests and
// demos.
func (s *Server) expireLocked() {
	now := s.now()
	for id, e := range s.envelopes {
		if now.After(time.Unix(e.ExpiresAt, 0)) {
			delete(s.envelopes, id)
			delete(s.byDedup, e.MessageID+"|"+e.RecipientPeerID)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newEnvelopeID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errNotANumber
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, errNotANumber
	}
	return n, nil
}
