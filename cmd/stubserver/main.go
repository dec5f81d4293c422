// Command stubserver is a development stand-in for the remote media manager
// API: the REST surface driftwatch consumes plus the push websocket. State
// is in memory only.
package main

import (
	"flag"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// collection paths, matching the real server's watch endpoints
var collections = map[string]string{
	"watch-movie":             "MOVIE",
	"watch-tv-show":           "TV_SHOW",
	"watch-tv-season":         "TV_SEASON",
	"watch-tv-season-request": "TV_SEASON_REQUEST",
	"watch-tv-episode":        "TV_EPISODE",
}

type record map[string]any

type frame struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   record `json:"data"`
}

type server struct {
	mu       sync.Mutex
	records  map[string][]record // keyed by collection path segment
	settings record
	nextID   int64
	tokens   map[string]bool

	username     string
	passwordHash []byte

	hub    *hub
	logger zerolog.Logger
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	username := flag.String("username", "admin", "login username")
	password := flag.String("password", "admin", "login password")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal().Err(err).Msg("hash password")
	}

	s := &server{
		records: make(map[string][]record),
		settings: record{
			"id":            int64(1),
			"is_debug":      false,
			"websocket_url": "http://stubserver/ws",
			"language":      "en",
		},
		nextID:       1,
		tokens:       make(map[string]bool),
		username:     *username,
		passwordHash: hash,
		hub:          newHub(logger),
		logger:       logger,
	}
	for path := range collections {
		s.records[path] = []record{}
	}

	e := echo.New()
	e.HideBanner = true

	e.POST("/api/auth/", s.handleAuth)
	e.GET("/ws", s.hub.handleWebSocket)

	authed := e.Group("/api", s.requireToken)
	authed.GET("/user/", s.handleUser)
	authed.GET("/settings/", s.handleSettings)
	authed.PATCH("/settings/:id/", s.handleUpdateSettings)
	authed.GET("/quality-profiles/", s.handleQualityProfiles)
	authed.GET("/media-categories/", s.handleMediaCategories)

	for path := range collections {
		base := "/" + path + "/"
		authed.GET(base, s.handleList(path))
		authed.POST(base, s.handleCreate(path))
		authed.PATCH(base+":id/", s.handleUpdate(path))
		authed.DELETE(base+":id/", s.handleDelete(path))
		authed.POST(base+":id/blacklist-auto-retry/", s.handleBlacklistRetry(path))
	}

	logger.Info().Str("addr", *addr).Msg("stub server listening")
	if err := e.Start(*addr); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func (s *server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Token ")
		if !ok || !s.validToken(token) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "invalid token"})
		}
		return next(c)
	}
}

func (s *server) validToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token]
}

func (s *server) handleAuth(c echo.Context) error {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&creds); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}

	if creds.Username != s.username ||
		bcrypt.CompareHashAndPassword(s.passwordHash, []byte(creds.Password)) != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid credentials"})
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (s *server) handleUser(c echo.Context) error {
	return c.JSON(http.StatusOK, []record{{
		"id":       int64(1),
		"username": s.username,
		"is_staff": true,
	}})
}

func (s *server) handleSettings(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.JSON(http.StatusOK, []record{s.settings})
}

func (s *server) handleUpdateSettings(c echo.Context) error {
	var params record
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}

	s.mu.Lock()
	for k, v := range params {
		if k == "id" {
			continue
		}
		s.settings[k] = v
	}
	updated := s.settings
	s.mu.Unlock()

	return c.JSON(http.StatusOK, updated)
}

func (s *server) handleQualityProfiles(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"profiles": {"any", "720p", "1080p", "2160p"},
	})
}

func (s *server) handleMediaCategories(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"categories": {"movies", "tv"},
	})
}

func (s *server) handleList(path string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var since time.Time
		if raw := c.QueryParam("date_updated__gte"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid date filter"})
			}
			since = parsed
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		result := []record{}
		for _, rec := range s.records[path] {
			if !since.IsZero() {
				updated, err := time.Parse(time.RFC3339, recString(rec, "date_updated"))
				if err != nil || updated.Before(since) {
					continue
				}
			}
			result = append(result, rec)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func (s *server) handleCreate(path string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var rec record
		if err := c.Bind(&rec); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
		}

		s.mu.Lock()
		rec["id"] = s.nextID
		rec["date_updated"] = time.Now().UTC().Format(time.RFC3339)
		s.nextID++
		s.records[path] = append(s.records[path], rec)
		s.mu.Unlock()

		s.hub.broadcast(frame{Type: collections[path], Action: "UPDATED", Data: rec})
		return c.JSON(http.StatusCreated, rec)
	}
}

func (s *server) handleUpdate(path string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid id"})
		}

		var params record
		if err := c.Bind(&params); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
		}

		s.mu.Lock()
		rec, ok := s.find(path, id)
		if !ok {
			s.mu.Unlock()
			return c.JSON(http.StatusNotFound, map[string]string{"detail": "not found"})
		}
		for k, v := range params {
			if k == "id" {
				continue
			}
			rec[k] = v
		}
		rec["date_updated"] = time.Now().UTC().Format(time.RFC3339)
		s.mu.Unlock()

		s.hub.broadcast(frame{Type: collections[path], Action: "UPDATED", Data: rec})
		return c.JSON(http.StatusOK, rec)
	}
}

func (s *server) handleDelete(path string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid id"})
		}

		s.mu.Lock()
		removed, ok := s.remove(path, id)
		s.mu.Unlock()
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"detail": "not found"})
		}

		s.hub.broadcast(frame{Type: collections[path], Action: "REMOVED", Data: removed})
		return c.NoContent(http.StatusNoContent)
	}
}

// handleBlacklistRetry fakes a blacklist-and-retry by rotating the torrent
// hash on the record.
func (s *server) handleBlacklistRetry(path string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid id"})
		}

		s.mu.Lock()
		rec, ok := s.find(path, id)
		if !ok {
			s.mu.Unlock()
			return c.JSON(http.StatusNotFound, map[string]string{"detail": "not found"})
		}
		rec["transmission_torrent_hash"] = uuid.NewString()
		rec["collected"] = false
		rec["date_updated"] = time.Now().UTC().Format(time.RFC3339)
		s.mu.Unlock()

		s.hub.broadcast(frame{Type: collections[path], Action: "UPDATED", Data: rec})
		return c.JSON(http.StatusOK, rec)
	}
}

// find returns the live record; callers must hold s.mu.
func (s *server) find(path string, id int64) (record, bool) {
	for _, rec := range s.records[path] {
		if recID(rec) == id {
			return rec, true
		}
	}
	return nil, false
}

// remove deletes by id; callers must hold s.mu.
func (s *server) remove(path string, id int64) (record, bool) {
	recs := s.records[path]
	for i, rec := range recs {
		if recID(rec) == id {
			s.records[path] = append(recs[:i], recs[i+1:]...)
			return rec, true
		}
	}
	return nil, false
}

func recID(rec record) int64 {
	switch v := rec["id"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		id, _ := strconv.ParseInt(v, 10, 64)
		return id
	}
	return 0
}

func recString(rec record, key string) string {
	s, _ := rec[key].(string)
	return s
}
