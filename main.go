package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/sealroom/sealroom/internal/docstore"
	"github.com/sealroom/sealroom/internal/docstore/memstore"
	"github.com/sealroom/sealroom/internal/docstore/sqlstore"
	"github.com/sealroom/sealroom/internal/fanout"
	"github.com/sealroom/sealroom/internal/handlers"
	"github.com/sealroom/sealroom/internal/identity"
	"github.com/sealroom/sealroom/internal/room"
	"github.com/sealroom/sealroom/internal/seal"
	"github.com/sealroom/sealroom/internal/session"
	"github.com/sealroom/sealroom/internal/ws"
)

var (
	addr      = flag.String("addr", ":8080", "http service address")
	storePath = flag.String("store", "sealroom.db", "document store: sqlite path, or 'memory'")
	dataDir   = flag.String("data", defaultDataDir(), "directory for per-room identities")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Document store: sqlite for anything durable, memory for demos.
	var store docstore.Store
	if *storePath == "memory" {
		store = memstore.New()
	} else {
		s, err := sqlstore.New(*storePath)
		if err != nil {
			log.Fatal(err)
		}
		store = s
	}

	ids, err := identity.NewStore(*dataDir)
	if err != nil {
		log.Fatal(err)
	}

	cipher := seal.Age{}
	dir := room.NewDirectory(store)
	encoder := fanout.NewEncoder(store, dir, cipher)
	ctrl := session.NewController(store, dir, ids, cipher, encoder)

	hub := ws.NewHub()
	go hub.Run()
	ctrl.OnView(hub.BroadcastView)

	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	handler := &handlers.Handler{Session: ctrl}
	handler.Routes(r)

	// WebSocket endpoint: streams the decrypted timeline to the UI.
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	log.Println("Starting sealroom node on", *addr)
	log.Fatal(http.ListenAndServe(*addr, r))
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".sealroom"
	}
	return filepath.Join(dir, "sealroom")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
