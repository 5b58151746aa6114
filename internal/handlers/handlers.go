// Package handlers exposes the session controller over HTTP for the local
// UI. Errors from the core map onto status codes here; response bodies stay
// small JSON structs.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sealroom/sealroom/internal/fanout"
	"github.com/sealroom/sealroom/internal/room"
	"github.com/sealroom/sealroom/internal/seal"
	"github.com/sealroom/sealroom/internal/session"
)

type Handler struct {
	Session *session.Controller
}

func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/rooms", h.CreateRoom).Methods("POST")
	r.HandleFunc("/rooms/{code}/join", h.JoinRoom).Methods("POST")
	r.HandleFunc("/identity", h.SetupIdentity).Methods("POST")
	r.HandleFunc("/identity", h.EditIdentity).Methods("DELETE")
	r.HandleFunc("/participants", h.AddParticipant).Methods("POST")
	r.HandleFunc("/messages", h.SendMessage).Methods("POST")
	r.HandleFunc("/leave", h.LeaveRoom).Methods("POST")
	r.HandleFunc("/state", h.State).Methods("GET")
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	code, err := h.Session.CreateRoom(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"code": code})
}

func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if err := h.Session.JoinRoom(r.Context(), code); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type SetupIdentityRequest struct {
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Passphrase string `json:"passphrase"`
}

func (h *Handler) SetupIdentity(w http.ResponseWriter, r *http.Request) {
	var req SetupIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Session.SetupIdentity(r.Context(), req.Name, req.PublicKey, req.PrivateKey, req.Passphrase); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) EditIdentity(w http.ResponseWriter, r *http.Request) {
	h.Session.EditIdentity()
	w.WriteHeader(http.StatusOK)
}

type AddParticipantRequest struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	var req AddParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Session.AddParticipant(r.Context(), req.Name, req.PublicKey); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sent, err := h.Session.Send(r.Context(), req.Text)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	json.NewEncoder(w).Encode(map[string]int{"envelopes": sent})
}

func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	h.Session.LeaveRoom()
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"state":  h.Session.State().String(),
		"roomId": h.Session.RoomID(),
		"name":   h.Session.Name(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrNameTaken):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoRoom),
		errors.Is(err, session.ErrNoIdentity),
		errors.Is(err, fanout.ErrEmptyRoom),
		errors.Is(err, fanout.ErrNoRecipients):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidCode),
		errors.Is(err, seal.ErrMalformedKey),
		errors.Is(err, seal.ErrWrongPassphrase):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}
