package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Taxi is the creation payload accepted by the fleet API.
type Taxi struct {
	Plate           string `json:"plate"`
	Model           string `json:"model"`
	CurrentKm       int    `json:"current_km"`
	LastServiceKm   int    `json:"last_service_km"`
	LastServiceDate string `json:"last_service_date,omitempty"`
	AfocatDate      string `json:"afocat_date,omitempty"`
	ReviewDate      string `json:"review_date,omitempty"`
}

// Maintenance is the workshop visit payload.
type Maintenance struct {
	Km             int      `json:"km"`
	OilUsed        string   `json:"oil_used"`
	FiltersChanged []string `json:"filters_changed"`
}

var taxiModels = []string{
	"Toyota Yaris", "Hyundai Accent", "Kia Rio", "Chevrolet Sail",
	"Nissan Versa", "Suzuki Swift DZire", "Toyota Corolla",
}

var oils = []string{"Castrol 20W-50", "Mobil 10W-30", "Shell Helix 15W-40", "Vistony 25W-60"}

var filterSets = [][]string{
	{"oil_filter"},
	{"oil_filter", "air_filter"},
	{"oil_filter", "air_filter", "fuel_filter"},
	{"oil_filter", "gearbox_grease"},
}

// randomPlate generates a Peruvian-style plate, e.g. "ABC-123".
func randomPlate() string {
	letters := "ABCDEFGHJKLMNPRSTUVWXYZ"
	b := make([]byte, 3)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return fmt.Sprintf("%s-%03d", string(b), rand.Intn(1000))
}

var authToken string

func authorizedPost(url string, contentType string, body *bytes.Buffer) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func createTaxi(apiURL string) (string, error) {
	now := time.Now()
	currentKm := 50000 + rand.Intn(150000)
	taxi := Taxi{
		Plate:           randomPlate(),
		Model:           taxiModels[rand.Intn(len(taxiModels))],
		CurrentKm:       currentKm,
		LastServiceKm:   currentKm - rand.Intn(5500),
		LastServiceDate: now.AddDate(0, 0, -rand.Intn(35)).Format(time.RFC3339),
		AfocatDate:      now.AddDate(0, 0, rand.Intn(365)).Format(time.RFC3339),
		ReviewDate:      now.AddDate(0, 0, rand.Intn(180)).Format(time.RFC3339),
	}

	data, err := json.Marshal(taxi)
	if err != nil {
		return "", fmt.Errorf("failed to marshal taxi: %w", err)
	}

	resp, err := authorizedPost(apiURL+"/vehicles", "application/json", bytes.NewBuffer(data))
	if err != nil {
		return "", fmt.Errorf("failed to create taxi: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("taxi creation failed with status: %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	createdID, ok := result["id"].(string)
	if !ok {
		return "", fmt.Errorf("invalid taxi ID in response")
	}

	log.WithFields(log.Fields{
		"taxi_id": createdID,
		"plate":   taxi.Plate,
		"model":   taxi.Model,
		"km":      taxi.CurrentKm,
	}).Info("Created taxi")

	return createdID, nil
}

// TaxiState tracks the simulated odometer of one taxi between ticks.
type TaxiState struct {
	TaxiID        string
	CurrentKm     int
	LastServiceKm int
}

func sendMaintenance(apiURL string, s *TaxiState) {
	m := Maintenance{
		Km:             s.CurrentKm,
		OilUsed:        oils[rand.Intn(len(oils))],
		FiltersChanged: filterSets[rand.Intn(len(filterSets))],
	}
	data, err := json.Marshal(m)
	if err != nil {
		log.WithError(err).Error("Failed to marshal maintenance")
		return
	}
	resp, err := authorizedPost(apiURL+"/vehicles/"+s.TaxiID+"/maintenance", "application/json", bytes.NewBuffer(data))
	if err != nil {
		log.WithError(err).Error("Failed to send maintenance")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		log.WithFields(log.Fields{"taxi_id": s.TaxiID, "status": resp.Status}).Error("Maintenance rejected")
		return
	}
	s.LastServiceKm = s.CurrentKm
	log.WithFields(log.Fields{
		"taxi_id": s.TaxiID,
		"km":      m.Km,
		"oil":     m.OilUsed,
		"filters": m.FiltersChanged,
	}).Info("Recorded maintenance")
}

// simulateTaxi drives the odometer forward each tick and books a workshop
// visit once the taxi has accumulated a full service interval.
func simulateTaxi(apiURL string, s *TaxiState, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for range tick.C {
		// a Lima taxi covers roughly 150-300 km per shift
		s.CurrentKm += 150 + rand.Intn(150)

		if s.CurrentKm-s.LastServiceKm >= 5000 {
			sendMaintenance(apiURL, s)
		}
	}
}

func main() {
	// Optional JWT for protected API
	authToken = os.Getenv("SIM_AUTH_TOKEN")

	fleetSize := 10
	if val := os.Getenv("FLEET_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			fleetSize = n
		}
	}

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	interval := 2 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    apiURL,
		"interval":   interval,
	}).Info("Starting taxi fleet simulation")

	states := make([]*TaxiState, 0, fleetSize)
	for i := 0; i < fleetSize; i++ {
		taxiID, err := createTaxi(apiURL)
		if err != nil {
			log.WithError(err).Error("Failed to create taxi")
			continue
		}
		km := 50000 + rand.Intn(150000)
		states = append(states, &TaxiState{
			TaxiID:        taxiID,
			CurrentKm:     km,
			LastServiceKm: km,
		})
	}

	log.WithField("created_taxis", len(states)).Info("Taxi creation completed")
	if len(states) == 0 {
		log.Error("No taxis created. Ensure SIM_AUTH_TOKEN is valid and API is reachable. Exiting.")
		time.Sleep(2 * time.Second)
		return
	}

	for _, s := range states {
		go simulateTaxi(apiURL, s, interval)
	}

	log.Info("Odometer simulation started")
	select {} // Block forever
}
