package handlers

import (
	"io"
	"net/http"

	"github.com/marshallyale/cyber-commutr/internal/database"
	"github.com/marshallyale/cyber-commutr/internal/reconcile"
)

// maxWebhookBody bounds webhook payload reads. Strava events are tiny.
const maxWebhookBody = 1 << 20

// HandleWebhookVerify answers Strava's subscription verification GET.
// The challenge is echoed only for a subscribe request carrying our
// verify token.
func (s *Server) HandleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode == "" || token == "" {
		s.writeError(w, http.StatusBadRequest, "missing verification params")
		return
	}
	if mode != "subscribe" || token != s.cfg.StravaVerifyToken {
		s.logger.Warn("webhook verification rejected", "mode", mode)
		s.writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	s.logger.Info("webhook verification succeeded")
	s.writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

// HandleWebhookEvent acknowledges and enqueues a webhook event. Strava
// retries slow or non-200 responses, so the event is acked before any
// reconciliation work happens. Malformed payloads are logged and acked;
// a retry would not fix them.
func (s *Server) HandleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Error("failed to read webhook body", "error", err)
		s.ackEvent(w)
		return
	}

	event, err := reconcile.DecodeEvent(body)
	if err != nil {
		s.logger.Warn("discarding malformed webhook payload", "error", err)
		s.ackEvent(w)
		return
	}

	if _, err := s.db.Enqueue(database.JobKindWebhook, body); err != nil {
		// Still ack: Strava's retry would hit the same store
		s.logger.Error("failed to enqueue webhook event", "error", err,
			"object_type", event.ObjectType, "object_id", event.ObjectID)
		s.ackEvent(w)
		return
	}

	s.logger.Info("webhook event enqueued",
		"object_type", event.ObjectType, "aspect_type", event.AspectType,
		"object_id", event.ObjectID, "owner_id", event.OwnerID)
	s.ackEvent(w)
}

func (s *Server) ackEvent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "EVENT_RECEIVED")
}
