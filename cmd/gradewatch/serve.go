package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"

	"github.com/hazyhaar/gradewatch/config"
	"github.com/hazyhaar/gradewatch/shield"
	"github.com/hazyhaar/gradewatch/watchdog"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the invoke front door over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides http.addr)", Sources: cli.EnvVars("HTTP_ADDR")},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			if a := cmd.String("addr"); a != "" {
				cfg.HTTP.Addr = a
			}
			runner, closeFn, err := buildRunner(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			var rl *shield.RateLimiter
			if cfg.HTTP.RateLimit > 0 {
				rl = shield.NewRateLimiter(map[string]shield.RateLimitConfig{
					"POST /invoke": {MaxRequests: cfg.HTTP.RateLimit, Window: cfg.HTTP.RateWindow},
				}, "/healthz")
				rl.StartGC(ctx.Done(), cfg.HTTP.RateWindow)
			}

			fd := &frontDoor{
				runner:    runner,
				cfg:       cfg,
				lookupEnv: os.LookupEnv,
			}
			srv := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           fd.routes(rl),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				log.Info("gradewatch: listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Kind)
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			log.Info("gradewatch: shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// invoker runs one watchdog request. *watchdog.Runner implements it.
type invoker interface {
	Run(ctx context.Context, req watchdog.Request) (*watchdog.Result, error)
}

// frontDoor is the HTTP adapter over the runner.
type frontDoor struct {
	runner    invoker
	cfg       *config.Config
	lookupEnv func(string) (string, bool)
}

func (fd *frontDoor) routes(rl *shield.RateLimiter) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(fd.cfg.HTTP.MaxBody, rl) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Post("/init", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok")
	})
	r.Post("/invoke", fd.handleInvoke)
	return r
}

// invokeBody distinguishes an absent field from an empty one: an absent
// password falls back to the environment, an empty one means "use the
// saved session".
type invokeBody struct {
	Topic         *string `json:"topic"`
	Account       *string `json:"account"`
	Password      *string `json:"password"`
	ServerBaseURL *string `json:"ntfyServerBaseUrl"`
	SemesterID    *string `json:"semesterId"`
	StateTopic    *string `json:"stateTopic"`
}

func (fd *frontDoor) handleInvoke(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	var body invokeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req, err := fd.request(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), fd.cfg.HTTP.RunTimeout)
	defer cancel()
	res, err := fd.runner.Run(ctx, req)
	if err != nil {
		if watchdog.IsValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("invoke: run failed", "account", req.Account, "topic", req.Topic, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// request resolves the body against the environment fallbacks. Account
// and password come from the environment only when allow_env_auth is set.
func (fd *frontDoor) request(b invokeBody) (watchdog.Request, error) {
	pick := func(v *string, env string, allowed bool) (string, bool) {
		if v != nil {
			return *v, true
		}
		if allowed && fd.lookupEnv != nil {
			return fd.lookupEnv(env)
		}
		return "", false
	}
	auth := fd.cfg.HTTP.AllowEnvAuth

	var req watchdog.Request
	req.Topic, _ = pick(b.Topic, "WATCHDOG_TOPIC", true)
	req.Account, _ = pick(b.Account, "WATCHDOG_ACCOUNT", auth)
	password, ok := pick(b.Password, "WATCHDOG_PASSWORD", auth)
	if !ok {
		return req, errors.New("password: is required (send an empty string to rely on the saved session)")
	}
	req.Password = password
	req.ServerBaseURL, _ = pick(b.ServerBaseURL, "WATCHDOG_NTFY_SERVER_BASE_URL", true)
	req.SemesterID, _ = pick(b.SemesterID, "WATCHDOG_SEMESTER_ID", true)
	req.StateTopic, _ = pick(b.StateTopic, "WATCHDOG_STATE_TOPIC", true)
	if req.ServerBaseURL == "" {
		req.ServerBaseURL = fd.cfg.Relay.Server
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
