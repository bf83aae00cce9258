package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/example/auction-house/internal/auction"
	"github.com/example/auction-house/internal/auth"
	"github.com/example/auction-house/internal/config"
	"github.com/example/auction-house/internal/ledger"
	srv "github.com/example/auction-house/internal/server"
)

func main() {
	// Load environment variables from .env file if it exists
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("AUCTION_CONFIG"), "Path to auction config yaml")
		httpPort   = flag.String("http-port", "8080", "HTTP port")
		httpsPort  = flag.String("https-port", "8443", "HTTPS port")
		certFile   = flag.String("cert", "", "Path to certificate file")
		keyFile    = flag.String("key", "", "Path to private key file")
		memStore   = flag.Bool("memory", false, "Keep the ledger in memory instead of sqlite")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config:", err)
	}

	var store ledger.Store
	if *memStore {
		store = ledger.NewMemory()
	} else {
		db, err := ledger.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			log.Fatal("open ledger:", err)
		}
		store = db
	}

	verifier := auth.NewVerifierFromEnv()
	coord := auction.New(store, cfg, cfg.Countdown())
	gs := srv.New(coord)
	coord.OnEvent(gs.BroadcastEvent)

	// Items left LEADING by a previous run get a fresh countdown.
	if err := coord.Reconcile(context.Background()); err != nil {
		log.Fatal("reconcile:", err)
	}

	r := mux.NewRouter()

	// CORS headers first so the frontend can talk to us from anywhere
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Health endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	r.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}).Methods("GET")

	// WebSocket endpoint (auth via query parameter or header)
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		gs.HandleWS(w, r, verifier)
	})

	// REST endpoints (protected)
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(verifier.Middleware)
	protected.HandleFunc("/items", gs.HandleListItems).Methods("GET")
	protected.HandleFunc("/items/{name}", gs.HandleGetItem).Methods("GET")
	protected.HandleFunc("/teams", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			gs.HandleCreateTeam(w, r)
			return
		}
		gs.HandleListTeams(w, r)
	}).Methods("GET", "POST")
	protected.HandleFunc("/teams/{name}", gs.HandleGetTeam).Methods("GET")

	httpServer := &http.Server{Addr: ":" + *httpPort, Handler: r}
	go func() {
		log.Printf("auction house (HTTP) listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed:", err)
		}
	}()

	var httpsServer *http.Server
	if *certFile != "" && *keyFile != "" {
		httpsServer = &http.Server{Addr: ":" + *httpsPort, Handler: r}
		go func() {
			log.Printf("auction house (HTTPS) listening on %s", httpsServer.Addr)
			if err := httpsServer.ListenAndServeTLS(*certFile, *keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal("HTTPS server failed:", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down, draining countdowns")
	coord.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	if httpsServer != nil {
		_ = httpsServer.Shutdown(ctx)
	}
	if err := store.Close(); err != nil {
		log.Println("close ledger:", err)
	}
}
