package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"jerosync/internal/constants"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/models"
	"jerosync/internal/service"
	"jerosync/internal/tracing"
	"jerosync/internal/versioning"

	"github.com/gorilla/mux"
)

const maxRequestBodyBytes = 1 << 20

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).
			WithField(service.LogFieldRequestID, tracing.GetRequestInfo(r.Context()).RequestID).
			Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestInfo(r.Context()).RequestID
	status := apperrors.HTTPStatusCode(err)

	entry := s.logger.WithFields(apperrors.Fields(err)).WithField(service.LogFieldRequestID, requestID)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	s.writeJSON(w, r, status, apperrors.ToHTTPResponse(err, requestID))
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidationFailed, "invalid request body").
			WithUserMessage("Request body is not valid JSON for this endpoint")
	}
	return nil
}

// requestContext carries the verbose logging flag into the services
func (s *Server) requestContext(r *http.Request) *http.Request {
	return r.WithContext(service.WithVerbose(r.Context(), s.verbose))
}

// Conversations

type sendMessageRequest struct {
	Content    string             `json:"content"`
	ReplyToID  *uint64            `json:"reply_to_id,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
}

func (s *Server) handleGetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := s.session.Conversations().Open(mux.Vars(r)["peer"])
		view := rec.View()
		s.writeJSON(w, r, http.StatusOK, conversationResponse(view))
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = s.requestContext(r)

		var req sendMessageRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Content) == "" && req.Attachment == nil {
			s.writeError(w, r, apperrors.NewValidationError("content", "", "message is empty"))
			return
		}

		if req.ReplyToID != nil && !versioning.FeatureGate(r.Context(), versioning.FeatureMessageReplies) {
			s.writeError(w, r, apperrors.NewValidationError("reply_to_id", "", "replies need API version 1.1"))
			return
		}

		rec := s.session.Conversations().Open(mux.Vars(r)["peer"])

		var (
			tempID string
			result <-chan error
		)
		if req.ReplyToID != nil {
			tempID, result = rec.SendReply(r.Context(), req.Content, req.Attachment, *req.ReplyToID)
		} else {
			tempID, result = rec.Send(r.Context(), req.Content, req.Attachment)
		}
		if tempID == "" {
			err := <-result
			if err == nil {
				err = apperrors.NewValidationError("content", "", "message is empty")
			}
			s.writeError(w, r, err)
			return
		}

		// Failures are reported on the event stream
		s.writeJSON(w, r, http.StatusAccepted, map[string]string{"temp_id": tempID})
	}
}

func (s *Server) handleRefreshConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := s.session.Conversations().Open(mux.Vars(r)["peer"])
		if err := rec.Load(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, conversationResponse(rec.View()))
	}
}

func (s *Server) handleCloseConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.session.Conversations().Close(mux.Vars(r)["peer"])
		w.WriteHeader(http.StatusNoContent)
	}
}

type conversationView struct {
	PeerID string `json:"peer_id"`
	conversationPayload
}

func conversationResponse(view models.ConversationView) conversationView {
	return conversationView{PeerID: view.PeerID, conversationPayload: newConversationPayload(view)}
}

// Presence

func (s *Server) handleGetPresence() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer := mux.Vars(r)["peer"]
		presence := s.session.Presence()
		rec := presence.Observe(peer)

		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"peer":      peer,
			"loaded":    presence.Loaded(),
			"is_online": rec.IsOnline,
			"last_seen": rec.LastSeen,
			"text":      presence.Text(peer, s.now()),
		})
	}
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

func (s *Server) handleSetVisibility() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req visibilityRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Visible == nil {
			s.writeError(w, r, apperrors.NewValidationError("visible", "", "visible is required"))
			return
		}

		s.session.SetVisible(*req.Visible)
		w.WriteHeader(http.StatusNoContent)
	}
}

// Statuses

type statusFeedResponse struct {
	Items  []models.StatusItem  `json:"items"`
	Groups []statusGroupSummary `json:"groups"`
}

type statusGroupSummary struct {
	Author   string `json:"author"`
	Count    int    `json:"count"`
	LatestID uint64 `json:"latest_id"`
	TimeAgo  string `json:"time_ago"`
}

func (s *Server) handleListStatuses() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = s.requestContext(r)
		feed := s.session.Statuses().VisibleFeed(r.Context(), s.session.Self())
		if feed.Err != nil {
			s.writeError(w, r, feed.Err)
			return
		}

		now := s.now()
		groups := service.GroupByAuthor(feed.Items)
		summaries := make([]statusGroupSummary, 0, len(groups))
		for _, g := range groups {
			latest := g.Items[0]
			summaries = append(summaries, statusGroupSummary{
				Author:   g.Author,
				Count:    len(g.Items),
				LatestID: latest.ID,
				TimeAgo:  service.TimeAgo(latest.Timestamp, now),
			})
		}

		s.writeJSON(w, r, http.StatusOK, statusFeedResponse{Items: feed.Items, Groups: summaries})
	}
}

type createStatusRequest struct {
	Media    json.RawMessage  `json:"media"`
	Caption  string           `json:"caption"`
	Audio    *models.MediaRef `json:"audio,omitempty"`
	AudioURL string           `json:"audio_url,omitempty"`
}

func (s *Server) handleCreateStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = s.requestContext(r)

		var req createStatusRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		media, err := models.UnmarshalMedia(req.Media)
		if err != nil {
			s.writeError(w, r, apperrors.NewValidationError("media", "", err.Error()))
			return
		}

		audio := req.Audio
		if req.AudioURL != "" {
			if !versioning.FeatureGate(r.Context(), versioning.FeatureStatusAudioURL) {
				s.writeError(w, r, apperrors.NewValidationError("audio_url", "", "audio URLs need API version 1.1"))
				return
			}
			ref, err := s.session.Composer().ResolveAudioURL(r.Context(), req.AudioURL)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			audio = &ref
		}

		if err := s.session.Composer().Create(r.Context(), media, req.Caption, audio); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleDeleteStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = s.requestContext(r)
		vars := mux.Vars(r)

		id, err := strconv.ParseUint(vars["id"], 10, 64)
		if err != nil {
			s.writeError(w, r, apperrors.NewValidationError("id", vars["id"], "status id must be a number"))
			return
		}

		item := models.StatusItem{Author: vars["author"], ID: id}
		if err := s.session.Composer().Delete(r.Context(), nil, item); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Contacts

type addContactRequest struct {
	Principal string `json:"principal,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func (s *Server) handleListContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts, err := s.session.Contacts().List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if contacts == nil {
			contacts = []string{}
		}
		s.writeJSON(w, r, http.StatusOK, map[string][]string{"contacts": contacts})
	}
}

func (s *Server) handleAddContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r = s.requestContext(r)

		var req addContactRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		var err error
		switch {
		case req.Phone != "" && req.Principal != "":
			err = apperrors.NewValidationError("contact", "", "give either a principal or a phone number")
		case req.Phone != "":
			err = s.session.Contacts().AddByPhone(r.Context(), req.Phone)
		default:
			err = s.session.Contacts().Add(r.Context(), req.Principal)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

// Intro

func (s *Server) handleGetIntro() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intro := s.session.Intro()
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"play":                intro.ShouldPlay(r.Context()),
			"minimum_duration_ms": constants.IntroMinimumDurationMs,
		})
	}
}

func (s *Server) handleCompleteIntro() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.session.Intro().Complete(r.Context()); err != nil {
			s.writeError(w, r, apperrors.NewDatabaseError("save intro flag", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
