package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"shipsbot/internal/commands"
	"shipsbot/internal/config"
	"shipsbot/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Game is the subset of game.Service exposed over HTTP.
type Game interface {
	State(ctx context.Context, playerID string) (game.PlayerState, error)
	RaidStatus(ctx context.Context, playerID string) (game.RaidStatus, error)
	PendingNotifications(ctx context.Context, playerID string) (game.NotificationList, error)
	QueueProductionUpgrade(ctx context.Context, origin game.Origin, r game.Resource) (game.UpgradeResult, error)
	QueueFleetProduction(ctx context.Context, origin game.Origin, ship game.Ship, count *big.Int) (game.BuildResult, error)
	DispatchRaid(ctx context.Context, origin game.Origin, locationID int, duration game.RaidDuration) (game.DispatchResult, error)
}

// Commands runs chat commands on behalf of a player.
type Commands interface {
	Handle(ctx context.Context, req commands.Request) (reply string, handled bool)
	Prefix() string
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	game     Game
	commands Commands
	metrics  http.Handler
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc Game, cmds Commands, metricsHandler http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		game:     gameSvc,
		commands: cmds,
		metrics:  metricsHandler,
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
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.adminMiddleware)
		r.Route("/players/{id}", func(r chi.Router) {
			r.Get("/state", s.handleState)
			r.Get("/raids", s.handleRaidStatus)
			r.Get("/notifications", s.handleNotifications)
			r.Post("/upgrades", s.handleUpgrade)
			r.Post("/builds", s.handleBuild)
			r.Post("/raids", s.handleDispatchRaid)
			r.Post("/commands", s.handleCommand)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func playerID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return "", errors.New("invalid player id")
	}
	return id, nil
}

// origin addresses notifications for API-issued operations. Without a
// channel the notification is persisted and later dropped as unreachable.
type originInput struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

func (o originInput) origin(playerID string) game.Origin {
	return game.Origin{PlayerID: playerID, GuildID: strings.TrimSpace(o.GuildID), ChannelID: strings.TrimSpace(o.ChannelID)}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.game.State(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st.View())
}

func (s *Server) handleRaidStatus(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := s.game.RaidStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := map[string]any{
		"now":       st.Now,
		"locations": st.Locations,
	}
	if st.Active != nil {
		out["active"] = raidJSON(*st.Active)
	}
	if st.Last != nil {
		out["last"] = raidJSON(*st.Last)
	}
	writeJSON(w, http.StatusOK, out)
}

func raidJSON(raid game.Raid) map[string]any {
	fleet := make(map[string]string, len(game.AllShips))
	for _, ship := range game.AllShips {
		if n := raid.Fleet.Get(ship); n.Sign() != 0 {
			fleet[ship.Key()] = n.String()
		}
	}
	loot := raid.Result.Loot
	if loot == nil {
		loot = []game.Item{}
	}
	return map[string]any{
		"id":          raid.ID,
		"location_id": raid.LocationID,
		"duration":    raid.Duration,
		"departure":   raid.Departure,
		"return":      raid.Return,
		"fleet":       fleet,
		"loot":        loot,
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pending, err := s.game.PendingNotifications(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(pending.Notifications))
	for _, n := range pending.Notifications {
		out = append(out, map[string]any{
			"id":         n.ID,
			"kind":       n.Kind,
			"payload":    n.Payload,
			"channel_id": n.ChannelID,
			"fire_at":    n.FireAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"now": pending.Now, "notifications": out})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		originInput
		Resource string `json:"resource"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := game.ParseResource(in.Resource)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.QueueProductionUpgrade(r.Context(), in.origin(id), res)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"resource":        out.Resource.Key(),
		"new_level":       out.NewLevel,
		"cost":            balancesJSON(out.Cost),
		"start_time":      out.StartTime,
		"completion_time": out.CompletionTime,
	})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		originInput
		Ship  string `json:"ship"`
		Count string `json:"count"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ship, err := game.ParseShip(in.Ship)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, ok := new(big.Int).SetString(strings.TrimSpace(in.Count), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid count %q", in.Count))
		return
	}
	out, err := s.game.QueueFleetProduction(r.Context(), in.origin(id), ship, count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ship":            out.Ship.Key(),
		"count":           out.Count.String(),
		"cost":            balancesJSON(out.Cost),
		"start_time":      out.StartTime,
		"completion_time": out.CompletionTime,
	})
}

func (s *Server) handleDispatchRaid(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		originInput
		LocationID int    `json:"location_id"`
		Duration   string `json:"duration"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	duration := game.RaidShort
	if in.Duration != "" {
		d, ok := game.ParseRaidDuration(in.Duration)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid duration %q", in.Duration))
			return
		}
		duration = d
	}
	out, err := s.game.DispatchRaid(r.Context(), in.origin(id), in.LocationID, duration)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	body := raidJSON(out.Raid)
	body["location"] = out.Location
	writeJSON(w, http.StatusCreated, body)
}

// handleCommand runs a chat command as if the player had typed it. The
// prefix is optional.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, err := playerID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		originInput
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	prefix := s.commands.Prefix()
	if content != prefix && !strings.HasPrefix(content, prefix+" ") {
		content = prefix + " " + content
	}

	correlationID := commandID(r)
	started := time.Now()
	reply, handled := s.commands.Handle(r.Context(), commands.Request{Origin: in.origin(id), Content: content})
	s.log.Info("admin command",
		"correlation_id", correlationID,
		"player_id", id,
		"content", content,
		"handled", handled,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if !handled {
		writeError(w, http.StatusBadRequest, "not a command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": correlationID, "reply": reply})
}

func balancesJSON(b game.Balances) map[string]string {
	out := make(map[string]string, len(game.AllResources))
	for _, res := range game.AllResources {
		if v := b.Get(res); v.Sign() != 0 {
			out[res.Key()] = v.String()
		}
	}
	return out
}

func writeDomainError(w http.ResponseWriter, err error) {
	var busy *game.RaidInProgressError
	switch {
	case errors.As(err, &busy):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       err.Error(),
			"raid_id":     busy.RaidID,
			"return_time": busy.ReturnTime,
		})
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInvalidInput),
		errors.Is(err, game.ErrEmptyFleet):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrLocationLocked), errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrContention), errors.Is(err, game.ErrLockTimeout):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func commandID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("X-Correlation-ID"))
	if id != "" {
		return id
	}
	return uuid.NewString()
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
