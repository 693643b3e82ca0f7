// Command spacesyncd serves the two sync RPCs over HTTP:
//
//	PUT    /space/{space}        create a space
//	GET    /space/{space}        check a space exists
//	DELETE /space/{space}        drop a space and everything it owns
//	POST   /space/{space}/push   apply a mutation batch
//	POST   /space/{space}/pull   compute a patch for a client group
//	GET    /metrics              prometheus metrics
//
// The daemon registers a generic "put"/"del" mutator pair so the engine is
// usable standalone; real deployments embed the engine and register their
// own domain mutators.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drpcorg/spacesync"
	"github.com/drpcorg/spacesync/protocol"
	"github.com/drpcorg/spacesync/sync_errors"
	"github.com/drpcorg/spacesync/utils"
)

type server struct {
	engine *spacesync.Engine
	log    utils.Logger
}

type kvArgs struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// builtinRegistry maps the generic key-value mutators: "put" stores a JSON
// value under a key, "del" removes it.
func builtinRegistry() *spacesync.Registry {
	reg := spacesync.NewRegistry()
	reg.Register("put", func(ctx context.Context, tx spacesync.Tx, args json.RawMessage) error {
		var kv kvArgs
		if err := json.Unmarshal(args, &kv); err != nil {
			return err
		}
		return tx.Put(kv.Key, kv.Value)
	})
	reg.Register("del", func(ctx context.Context, tx spacesync.Tx, args json.RawMessage) error {
		var kv kvArgs
		if err := json.Unmarshal(args, &kv); err != nil {
			return err
		}
		return tx.Del(kv.Key)
	})
	return reg
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	dir := flag.String("dir", "spacesync-data", "database directory")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	log := utils.NewDefaultLogger(utils.ParseLevel(*level))

	engine, err := spacesync.Open(*dir, spacesync.Options{
		Logger:     log,
		Registry:   builtinRegistry(),
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		log.Error("open failed", "dir", *dir, "err", err)
		os.Exit(1)
	}

	srv := &server{engine: engine, log: log}

	router := mux.NewRouter()
	router.Use(srv.requestID)
	router.HandleFunc("/space/{space}", srv.handleCreate).Methods(http.MethodPut)
	router.HandleFunc("/space/{space}", srv.handleExists).Methods(http.MethodGet)
	router.HandleFunc("/space/{space}", srv.handleDrop).Methods(http.MethodDelete)
	router.HandleFunc("/space/{space}/push", srv.handlePush).Methods(http.MethodPost)
	router.HandleFunc("/space/{space}/pull", srv.handlePull).Methods(http.MethodPost)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	httpSrv := &http.Server{Addr: *addr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("listening", "addr", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", "err", err)
	}
	if err := engine.Close(); err != nil {
		log.Warn("close", "err", err)
	}
	log.Info("bye")
}

// requestID tags every request's context with a v7 uuid for log correlation.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := utils.WithDefaultArgs(r.Context(),
			"request", uuid.Must(uuid.NewV7()).String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sync_errors.ErrSpaceExists),
		errors.Is(err, sync_errors.ErrSequenceGap):
		status = http.StatusConflict
	case errors.Is(err, sync_errors.ErrSpaceUnknown),
		errors.Is(err, sync_errors.ErrClientGroupUnknown):
		status = http.StatusNotFound
	case errors.Is(err, sync_errors.ErrBadCookie),
		errors.Is(err, sync_errors.ErrBadID):
		status = http.StatusBadRequest
	case errors.Is(err, sync_errors.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	s.log.WarnCtx(r.Context(), "request failed", "path", r.URL.Path, "status", status, "err", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = protocol.EncodeResponse(w, errorBody{Error: err.Error()})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	space := mux.Vars(r)["space"]
	if err := s.engine.CreateSpace(r.Context(), space); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *server) handleExists(w http.ResponseWriter, r *http.Request) {
	space := mux.Vars(r)["space"]
	ok, err := s.engine.SpaceExists(r.Context(), space)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !ok {
		s.fail(w, r, sync_errors.ErrSpaceUnknown)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) handleDrop(w http.ResponseWriter, r *http.Request) {
	space := mux.Vars(r)["space"]
	if err := s.engine.DropSpace(r.Context(), space); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handlePush(w http.ResponseWriter, r *http.Request) {
	req, err := protocol.DecodePushRequest(r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req.SpaceID = mux.Vars(r)["space"]

	resp, err := s.engine.Push(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = protocol.EncodeResponse(w, resp)
}

func (s *server) handlePull(w http.ResponseWriter, r *http.Request) {
	req, err := protocol.DecodePullRequest(r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req.SpaceID = mux.Vars(r)["space"]

	resp, err := s.engine.Pull(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = protocol.EncodeResponse(w, resp)
}
