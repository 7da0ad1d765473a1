package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"stockpicks/internal/auth"
	"stockpicks/internal/config"
	"stockpicks/internal/game"
	"stockpicks/internal/prices"
	"stockpicks/internal/quotes"
)

// Game is the part of game.Service the HTTP layer needs.
type Game interface {
	Signup(ctx context.Context, username, password string) (auth.Session, error)
	Login(ctx context.Context, username, password string) (auth.Session, error)
	Logout(ctx context.Context, userID string) error
	Authenticate(ctx context.Context, token string) (game.User, error)
	ListUsers(ctx context.Context) ([]game.User, error)
	GetUser(ctx context.Context, userID string) (game.User, error)
	UserPicks(ctx context.Context, userID string) ([]game.Pick, error)

	CurrentWeek(ctx context.Context) (game.Week, error)
	ListWeeks(ctx context.Context) ([]game.Week, error)
	WeekDetail(ctx context.Context, weekID int64) (game.WeekDetail, error)
	UpdateWeekDates(ctx context.Context, weekID int64, start, end time.Time) (game.Week, error)
	DecideWeekWinner(ctx context.Context, weekID int64) (game.Pick, bool, error)
	CalculateAllWinners(ctx context.Context) (game.WinnerSummary, error)

	WeekPicks(ctx context.Context, weekID int64) ([]game.Pick, error)
	SubmitPick(ctx context.Context, in game.SubmitPickInput) (game.Pick, error)
	RefreshWeekPrices(ctx context.Context, weekID int64) (game.RecomputeSummary, error)

	Scoreboard(ctx context.Context) ([]game.ScoreboardRow, error)
	Stats(ctx context.Context) (game.Stats, error)
}

type PriceLookup interface {
	Lookup(ctx context.Context, symbol string) (prices.Record, prices.Freshness, error)
}

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID   string
	Username string
	Token    string
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	game     Game
	prices   PriceLookup
	validate *validator.Validate
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc Game, priceBook PriceLookup) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		game:     gameSvc,
		prices:   priceBook,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Get("/users", s.handleUsers)
		r.Get("/users/{id}", s.handleUser)
		r.Get("/weeks/current", s.handleCurrentWeek)
		r.Get("/weeks", s.handleWeeks)
		r.Get("/weeks/{id}", s.handleWeek)
		r.Get("/picks", s.handlePicks)
		r.Get("/stocks/{symbol}", s.handleStock)
		r.Get("/scoreboard", s.handleScoreboard)
		r.Get("/stats", s.handleStats)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)
			r.Put("/weeks/{id}", s.handleUpdateWeek)
			r.Post("/weeks/{id}/winner", s.handleDecideWinner)
			r.Post("/weeks/calculate-winners", s.handleCalculateWinners)
			r.Post("/picks", s.handleSubmitPick)
			r.Post("/update-prices", s.handleUpdatePrices)
		})
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.game.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, game.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			s.writeDomainError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID:   user.ID,
			Username: user.Username,
			Token:    token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=24"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if !s.decodeValid(w, r, &in) {
		return
	}
	session, err := s.game.Signup(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if !s.decodeValid(w, r, &in) {
		return
	}
	session, err := s.game.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.game.Logout(r.Context(), user.UserID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": user.UserID, "username": user.Username})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.game.ListUsers(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleUser returns a player with their pick history, newest week first.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, game.ErrUserNotFound.Error())
		return
	}
	user, err := s.game.GetUser(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	picks, err := s.game.UserPicks(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "picks": picks})
}

func (s *Server) handleCurrentWeek(w http.ResponseWriter, r *http.Request) {
	week, err := s.game.CurrentWeek(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, week)
}

func (s *Server) handleWeeks(w http.ResponseWriter, r *http.Request) {
	weeks, err := s.game.ListWeeks(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weeks)
}

func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	weekID, ok := weekIDParam(w, r)
	if !ok {
		return
	}
	detail, err := s.game.WeekDetail(r.Context(), weekID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateWeek(w http.ResponseWriter, r *http.Request) {
	weekID, ok := weekIDParam(w, r)
	if !ok {
		return
	}
	var in struct {
		StartDate time.Time `json:"start_date" validate:"required"`
		EndDate   time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	week, err := s.game.UpdateWeekDates(r.Context(), weekID, in.StartDate, in.EndDate)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, week)
}

func (s *Server) handleDecideWinner(w http.ResponseWriter, r *http.Request) {
	weekID, ok := weekIDParam(w, r)
	if !ok {
		return
	}
	winner, decided, err := s.game.DecideWeekWinner(r.Context(), weekID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := map[string]any{"week_id": weekID, "decided": decided}
	if decided {
		out["winner"] = winner
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCalculateWinners(w http.ResponseWriter, r *http.Request) {
	sum, err := s.game.CalculateAllWinners(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePicks(w http.ResponseWriter, r *http.Request) {
	weekID, ok := s.weekQuery(w, r)
	if !ok {
		return
	}
	picks, err := s.game.WeekPicks(r.Context(), weekID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, picks)
}

func (s *Server) handleSubmitPick(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Symbol string `json:"symbol" validate:"required,max=8"`
	}
	if !s.decodeValid(w, r, &in) {
		return
	}
	pick, err := s.game.SubmitPick(r.Context(), game.SubmitPickInput{UserID: user.UserID, Symbol: in.Symbol})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pick)
}

func (s *Server) handleUpdatePrices(w http.ResponseWriter, r *http.Request) {
	weekID, ok := s.weekQuery(w, r)
	if !ok {
		return
	}
	sum, err := s.game.RefreshWeekPrices(r.Context(), weekID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type stockResponse struct {
	prices.Record
	Freshness string `json:"freshness"`
	Stale     bool   `json:"stale"`
}

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusServiceUnavailable, "price lookup disabled")
		return
	}
	rec, freshness, err := s.prices.Lookup(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{
		Record:    rec,
		Freshness: freshness.String(),
		Stale:     freshness == prices.Stale,
	})
}

func (s *Server) handleScoreboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.game.Scoreboard(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.game.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// weekQuery reads ?week=<id>, defaulting to the current week.
func (s *Server) weekQuery(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("week"))
	if raw == "" {
		week, err := s.game.CurrentWeek(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return 0, false
		}
		return week.ID, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "week must be a positive integer")
		return 0, false
	}
	return id, true
}

func weekIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid week id")
		return 0, false
	}
	return id, true
}

func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "gtfield":
			msgs = append(msgs, fmt.Sprintf("%s must be after %s", field, strings.ToLower(fe.Param())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, game.ErrInvalidSymbol), errors.Is(err, quotes.ErrInvalidSymbol),
		errors.Is(err, game.ErrInvalidUsername), errors.Is(err, game.ErrInvalidWeekRange),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInvalidCredentials), errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, game.ErrWeekNotFound), errors.Is(err, game.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, prices.ErrNotFound), errors.Is(err, quotes.ErrNotFound):
		writeError(w, http.StatusNotFound, "no price available")
	case errors.Is(err, game.ErrPickExists), errors.Is(err, game.ErrUsernameTaken),
		errors.Is(err, game.ErrWeekClosed), errors.Is(err, game.ErrWeekInProgress),
		errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		s.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
