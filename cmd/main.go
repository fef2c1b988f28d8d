package main

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/rcastrodev/taxi-fleet/internal/auth"
	"github.com/rcastrodev/taxi-fleet/internal/config"
	"github.com/rcastrodev/taxi-fleet/internal/db"
	"github.com/rcastrodev/taxi-fleet/internal/handlers"
	"github.com/rcastrodev/taxi-fleet/internal/ledger"
	"github.com/rcastrodev/taxi-fleet/internal/middleware"
	"github.com/rcastrodev/taxi-fleet/internal/models"
	"github.com/rcastrodev/taxi-fleet/internal/session"
	"github.com/rcastrodev/taxi-fleet/internal/status"
	"github.com/rcastrodev/taxi-fleet/internal/store"
)

func registerVehicleRoutes(mux *http.ServeMux, h *handlers.VehicleHandler) {
	mux.HandleFunc("GET /api/vehicles", h.List)
	mux.HandleFunc("POST /api/vehicles", h.Create)
	mux.HandleFunc("DELETE /api/vehicles/{id}", h.Delete)
	mux.HandleFunc("POST /api/vehicles/{id}/maintenance", h.RecordMaintenance)
	mux.HandleFunc("GET /api/vehicles/{id}/history", h.History)
	mux.HandleFunc("GET /api/vehicles/{id}/status", h.Status)
	mux.HandleFunc("GET /api/vehicles/stream", h.Stream)
}

// remoteResolver resolves a stream request's identity from its bearer token.
// SSE clients that cannot set headers pass the token as a query parameter.
func remoteResolver(authSvc *auth.Service, users db.UserCollection) handlers.ResolverFactory {
	return func(r *http.Request) session.Resolver {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		return session.ResolverFunc(func(ctx context.Context) (*models.User, error) {
			claims, err := authSvc.ValidateToken(token)
			if err != nil {
				return nil, nil // resolved: no user
			}
			return users.FindUserByID(ctx, claims.UserID)
		})
	}
}

// localResolver always resolves the fixed local owner; the local backend
// runs without an identity provider.
func localResolver() handlers.ResolverFactory {
	return func(r *http.Request) session.Resolver {
		return session.ResolverFunc(func(ctx context.Context) (*models.User, error) {
			return &models.User{ID: handlers.LocalOwnerID}, nil
		})
	}
}

func main() {
	cfg := config.Load()
	log.SetFormatter(&log.JSONFormatter{})

	thresholds := status.DefaultThresholds()
	rate := middleware.NewRateLimitMiddleware()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Backend selection happens exactly once, here. There is no fallback or
	// migration between the two modes at runtime.
	var handler http.Handler
	if cfg.RemoteEnabled() {
		client, err := db.ConnectMongo(cfg.MongoURI)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to MongoDB")
		}
		database := client.Database(cfg.MongoDB)
		vehicles := &db.MongoVehicleCollection{Collection: database.Collection("taxis")}
		events := &db.MongoHistoryCollection{Collection: database.Collection("history")}
		users := &db.MongoUserCollection{Collection: database.Collection("users")}

		broker, err := store.NewMQTTBroker(cfg.MQTTBroker, "taxi-fleet-server")
		if err != nil {
			log.WithError(err).Fatal("failed to connect to MQTT broker")
		}
		defer broker.Close()

		remote := store.NewRemote(vehicles, broker)
		led := ledger.NewRemote(events)
		authSvc := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)

		vehicleHandler := handlers.NewVehicleHandler(remote, led, ledger.NewRecorder(remote, led), thresholds, remoteResolver(authSvc, users))
		authHandler := handlers.NewAuthHandler(authSvc, users)

		registerVehicleRoutes(mux, vehicleHandler)
		mux.HandleFunc("POST /api/auth/register", authHandler.Register)
		mux.HandleFunc("POST /api/auth/login", authHandler.Login)

		authMw := middleware.NewAuthMiddleware(authSvc)
		handler = rate.RateLimit(120, 60)(authMw.Authenticate(mux))
		log.Info("remote backend selected (MongoDB + MQTT)")
	} else {
		local, err := store.NewLocal(cfg.LocalStorePath)
		if err != nil {
			log.WithError(err).Fatal("failed to open local store")
		}

		vehicleHandler := handlers.NewVehicleHandler(local, local, ledger.NewRecorder(local, local), thresholds, localResolver())
		registerVehicleRoutes(mux, vehicleHandler)

		handler = rate.RateLimit(120, 60)(mux)
		log.WithField("path", cfg.LocalStorePath).Info("local backend selected (no MONGO_URI)")
	}

	log.WithField("port", cfg.Port).Info("HTTP server listening")
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}
