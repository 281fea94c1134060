package server

import (
	"cod-tracker/internal/constants"
	"cod-tracker/internal/domain"
	"cod-tracker/internal/repository"
	"cod-tracker/internal/scheduler"
	"cod-tracker/internal/service"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type TrackerServer struct {
	tracker   *service.TrackerService
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

func NewTrackerServer(tracker *service.TrackerService, s *scheduler.Scheduler, logger zerolog.Logger) *TrackerServer {
	return &TrackerServer{tracker: tracker, scheduler: s, logger: logger}
}

// Routes registers every endpoint on mux.
func (s *TrackerServer) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /tasks", s.enqueue)
	mux.HandleFunc("GET /tasks", s.queue)
	mux.HandleFunc("DELETE /tasks/{name}", s.deleteTask)
	mux.HandleFunc("POST /tasks/clear", s.clearTasks)
	mux.HandleFunc("GET /status", s.status)
	mux.HandleFunc("PUT /status", s.setStatus)
	mux.HandleFunc("GET /logs", s.cacheLogs)
	mux.HandleFunc("POST /players", s.addPlayer)
	mux.HandleFunc("GET /players/{uno}/stats", s.playerStats)
	mux.HandleFunc("GET /players/{uno}/matches/{mode}", s.playerMatches)
	mux.HandleFunc("GET /matches/{mode}/{matchID}", s.match)
	mux.HandleFunc("PUT /players/{uno}/games/{mode}", s.setGameStatus)
	mux.HandleFunc("DELETE /players/{uno}", s.deletePlayer)
	mux.HandleFunc("POST /admin/doubles", s.clearDoubles)
	mux.HandleFunc("POST /admin/fullmatches/load", s.loadFullmatches)
	mux.HandleFunc("POST /admin/fullmatches/basic", s.loadBasic)
	mux.Handle("GET /metrics", promhttp.Handler())
}

type errorBody struct {
	Detail      string     `json:"detail"`
	SecondsWait int        `json:"seconds_wait,omitempty"`
	Time        *time.Time `json:"time,omitempty"`
}

func (s *TrackerServer) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to write response")
	}
}

func (s *TrackerServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rejection *service.UpdateRejection
	switch {
	case errors.As(err, &rejection):
		body := errorBody{Detail: rejection.Reason, SecondsWait: rejection.SecondsWait}
		if !rejection.Time.IsZero() {
			body.Time = &rejection.Time
		}
		status := http.StatusMethodNotAllowed
		if rejection.Conflict {
			status = http.StatusConflict
		}
		s.writeJSON(w, r, status, body)
	case errors.Is(err, service.ErrTargetNotFound), errors.Is(err, repository.ErrNotFound):
		s.writeJSON(w, r, http.StatusNotFound, errorBody{Detail: err.Error()})
	case errors.Is(err, scheduler.ErrTaskActive):
		s.writeJSON(w, r, http.StatusConflict, errorBody{Detail: err.Error()})
	case errors.Is(err, repository.ErrUnknownPartition):
		s.writeJSON(w, r, http.StatusBadRequest, errorBody{Detail: err.Error()})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		s.writeJSON(w, r, http.StatusInternalServerError, errorBody{Detail: "internal error"})
	}
}

func (s *TrackerServer) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.writeJSON(w, r, http.StatusBadRequest, errorBody{Detail: err.Error()})
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

type enqueueRequest struct {
	Target   string `json:"target"`
	GameMode string `json:"game_mode"`
	DataType string `json:"data_type"`
}

func (s *TrackerServer) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	mode, err := domain.ParseGameMode(req.GameMode)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	dataType, err := domain.ParseDataType(req.DataType)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if req.Target == "" {
		s.badRequest(w, r, errors.New("target is required"))
		return
	}

	msg, err := s.tracker.RequestUpdate(r.Context(), req.Target, mode, dataType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"message": msg})
}

func (s *TrackerServer) queue(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.scheduler.Queue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	s.writeJSON(w, r, http.StatusOK, tasks)
}

func (s *TrackerServer) deleteTask(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	found, err := s.scheduler.DeleteByName(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeJSON(w, r, http.StatusNotFound, errorBody{Detail: "task [" + name + "] not found"})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"message": "task [" + name + "] deleted"})
}

func (s *TrackerServer) clearTasks(w http.ResponseWriter, r *http.Request) {
	n, err := s.scheduler.ClearStuckOrStale(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]int{"cleared": n})
}

func (s *TrackerServer) status(w http.ResponseWriter, r *http.Request) {
	status, err := s.tracker.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]domain.TrackerStatus{"status": status})
}

func (s *TrackerServer) setStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	status, err := domain.ParseTrackerStatus(req.Status)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	if err := s.tracker.SetStatus(r.Context(), status); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]domain.TrackerStatus{"status": status})
}

func (s *TrackerServer) cacheLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.tracker.CacheLogs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []domain.CacheLog{}
	}
	s.writeJSON(w, r, http.StatusOK, logs)
}

type addPlayerRequest struct {
	Uno      string `json:"uno"`
	Username string `json:"username"`
	Acti     string `json:"acti"`
	Battle   string `json:"battle"`
	Group    string `json:"group"`
}

func (s *TrackerServer) addPlayer(w http.ResponseWriter, r *http.Request) {
	var req addPlayerRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if domain.TargetTypeOf(req.Uno) != domain.TargetPlayer {
		s.badRequest(w, r, errors.New("uno must be numeric"))
		return
	}

	p := &domain.Player{
		Uno:    req.Uno,
		Acti:   req.Acti,
		Battle: req.Battle,
		Group:  req.Group,
		Games:  domain.NewGames(),
	}
	if req.Username != "" {
		p.Username = []string{req.Username}
	}
	if err := s.tracker.AddPlayer(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, p)
}

func (s *TrackerServer) playerStats(w http.ResponseWriter, r *http.Request) {
	p, err := s.tracker.PlayerStats(r.Context(), r.PathValue("uno"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, p)
}

func (s *TrackerServer) setGameStatus(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseGameMode(r.PathValue("mode"))
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	var req struct {
		Status domain.GameStatus `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	if req.Status < domain.GameNotEnabled || req.Status > domain.GameDisabled {
		s.badRequest(w, r, errors.New("status must be 0, 1 or 2"))
		return
	}

	uno := r.PathValue("uno")
	if err := s.tracker.SetGameStatus(r.Context(), uno, mode, req.Status); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"uno": uno, "game_mode": mode, "status": req.Status})
}

func (s *TrackerServer) deletePlayer(w http.ResponseWriter, r *http.Request) {
	uno := r.PathValue("uno")
	if err := s.tracker.DeletePlayer(r.Context(), uno); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"message": "player [" + uno + "] deleted"})
}

// concreteMode parses a path or body mode that must not be "all".
func concreteMode(raw string) (domain.GameMode, error) {
	mode, err := domain.ParseGameMode(raw)
	if err != nil || mode == domain.GameModeAll {
		return "", errors.New("a concrete game_mode is required")
	}
	return mode, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func (s *TrackerServer) playerMatches(w http.ResponseWriter, r *http.Request) {
	mode, err := concreteMode(r.PathValue("mode"))
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	matches, err := s.tracker.PlayerMatches(r.Context(), r.PathValue("uno"), mode, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, matches)
}

func (s *TrackerServer) match(w http.ResponseWriter, r *http.Request) {
	mode, err := concreteMode(r.PathValue("mode"))
	if err != nil {
		s.badRequest(w, r, err)
		return
	}
	players, err := s.tracker.Match(r.Context(), mode, r.PathValue("matchID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, players)
}

type adminRequest struct {
	Uno      string `json:"uno"`
	GameMode string `json:"game_mode"`
	Year     int    `json:"year"`
}

func (s *TrackerServer) clearDoubles(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	mode, err := concreteMode(req.GameMode)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.AdminTimeout)
	defer cancel()
	deleted, err := s.tracker.ClearDoubles(ctx, req.Uno, mode, req.Year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *TrackerServer) loadFullmatches(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	mode, err := concreteMode(req.GameMode)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.AdminTimeout)
	defer cancel()
	summary, err := s.tracker.LoadFullmatches(ctx, mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summary)
}

func (s *TrackerServer) loadBasic(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := decodeBody(r, &req); err != nil {
		s.badRequest(w, r, err)
		return
	}
	mode, err := concreteMode(req.GameMode)
	if err != nil {
		s.badRequest(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.AdminTimeout)
	defer cancel()
	summary, err := s.tracker.LoadBasic(ctx, mode, req.Year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summary)
}
