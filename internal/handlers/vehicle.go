package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rcastrodev/taxi-fleet/internal/ledger"
	"github.com/rcastrodev/taxi-fleet/internal/middleware"
	"github.com/rcastrodev/taxi-fleet/internal/models"
	"github.com/rcastrodev/taxi-fleet/internal/session"
	"github.com/rcastrodev/taxi-fleet/internal/status"
	"github.com/rcastrodev/taxi-fleet/internal/store"
)

// LocalOwnerID scopes the fleet when the local backend runs without an
// identity provider.
const LocalOwnerID = "local"

// ResolverFactory builds the identity resolver for a streaming request.
type ResolverFactory func(r *http.Request) session.Resolver

// VehicleView is a vehicle plus its evaluated status, the shape every read
// endpoint and the stream return.
type VehicleView struct {
	models.Vehicle
	Status status.Report `json:"status"`
}

// VehicleHandler serves the fleet CRUD, maintenance, history and status
// endpoints over whichever backend pair was composed at startup.
type VehicleHandler struct {
	store      store.Store
	ledger     ledger.Ledger
	recorder   *ledger.Recorder
	thresholds status.Thresholds
	resolver   ResolverFactory
}

// NewVehicleHandler creates a vehicle handler.
func NewVehicleHandler(st store.Store, led ledger.Ledger, rec *ledger.Recorder, th status.Thresholds, resolver ResolverFactory) *VehicleHandler {
	return &VehicleHandler{
		store:      st,
		ledger:     led,
		recorder:   rec,
		thresholds: th,
		resolver:   resolver,
	}
}

// ownerID resolves the fleet owner for a request: the authenticated claims
// in remote mode, the fixed local owner otherwise.
func (h *VehicleHandler) ownerID(r *http.Request) string {
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		return claims.UserID
	}
	return LocalOwnerID
}

func (h *VehicleHandler) decorate(vehicles []models.Vehicle, now time.Time) []VehicleView {
	views := make([]VehicleView, 0, len(vehicles))
	for _, v := range vehicles {
		views = append(views, VehicleView{Vehicle: v, Status: status.Evaluate(v, now, h.thresholds)})
	}
	return views
}

// List returns the owner's fleet with evaluated statuses.
func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.store.List(r.Context(), h.ownerID(r))
	if err != nil {
		http.Error(w, "Failed to list vehicles", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.decorate(vehicles, time.Now()))
}

// CreateVehicleRequest is the create-vehicle form payload.
type CreateVehicleRequest struct {
	Plate           string     `json:"plate"`
	Model           string     `json:"model"`
	CurrentKm       int        `json:"current_km"`
	LastServiceKm   int        `json:"last_service_km"`
	LastServiceDate *time.Time `json:"last_service_date,omitempty"`
	AfocatDate      *time.Time `json:"afocat_date,omitempty"`
	ReviewDate      *time.Time `json:"review_date,omitempty"`
}

// Create stores a new vehicle for the owner.
func (h *VehicleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateVehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Plate == "" {
		http.Error(w, "Plate is required", http.StatusBadRequest)
		return
	}

	lastServiceDate := time.Now()
	if req.LastServiceDate != nil {
		lastServiceDate = *req.LastServiceDate
	}

	vehicle := models.Vehicle{
		Plate:           req.Plate,
		Model:           req.Model,
		CurrentKm:       req.CurrentKm,
		LastServiceKm:   req.LastServiceKm,
		LastServiceDate: lastServiceDate,
		AfocatDate:      req.AfocatDate,
		ReviewDate:      req.ReviewDate,
	}

	created, err := h.store.Create(r.Context(), h.ownerID(r), vehicle)
	if err != nil {
		http.Error(w, "Failed to create vehicle", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, VehicleView{Vehicle: created, Status: status.Evaluate(created, time.Now(), h.thresholds)})
}

// Delete removes a vehicle.
func (h *VehicleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), h.ownerID(r), r.PathValue("id")); err != nil {
		http.Error(w, "Vehicle not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordMaintenance appends one maintenance event and rolls the vehicle
// forward. The two writes behind this are not transactional.
func (h *VehicleHandler) RecordMaintenance(w http.ResponseWriter, r *http.Request) {
	var in ledger.MaintenanceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	for _, tag := range in.FiltersChanged {
		if !models.IsValidFilterTag(tag) {
			http.Error(w, fmt.Sprintf("Unknown filter tag: %s", tag), http.StatusBadRequest)
			return
		}
	}

	event, err := h.recorder.RecordMaintenance(r.Context(), h.ownerID(r), r.PathValue("id"), in)
	if err != nil {
		http.Error(w, "Failed to record maintenance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// History returns the vehicle's maintenance events, newest first.
func (h *VehicleHandler) History(w http.ResponseWriter, r *http.Request) {
	events, err := h.ledger.ListEvents(r.Context(), h.ownerID(r), r.PathValue("id"))
	if err != nil {
		http.Error(w, "Vehicle not found", http.StatusNotFound)
		return
	}
	ledger.SortByDateDesc(events)
	if events == nil {
		events = []models.HistoryEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// Status evaluates one vehicle.
func (h *VehicleHandler) Status(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.store.List(r.Context(), h.ownerID(r))
	if err != nil {
		http.Error(w, "Failed to list vehicles", http.StatusInternalServerError)
		return
	}
	id := r.PathValue("id")
	for _, v := range vehicles {
		if v.ID == id {
			writeJSON(w, http.StatusOK, status.Evaluate(v, time.Now(), h.thresholds))
			return
		}
	}
	http.Error(w, "Vehicle not found", http.StatusNotFound)
}

// Stream serves the live fleet over server-sent events. Each request gets
// its own session: identity resolution raced against the watchdog, one
// subscription, cancelled on disconnect.
func (h *VehicleHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	snapshots := make(chan []models.Vehicle, 8)
	s := session.New(h.store, h.resolver(r))
	err := s.Start(r.Context(), func(vehicles []models.Vehicle) {
		select {
		case snapshots <- vehicles:
		default:
			// A slow consumer drops intermediate snapshots; each delivery
			// is a full replacement so only the latest matters.
		}
	})
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	defer s.SignOut()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-r.Context().Done():
			return
		case vehicles := <-snapshots:
			payload, err := json.Marshal(h.decorate(vehicles, time.Now()))
			if err != nil {
				log.WithError(err).Error("failed to encode snapshot")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}
