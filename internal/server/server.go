// Package server exposes stored calibration tables over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"attencal/internal/hw"
	"attencal/internal/store"
	"attencal/internal/table"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// Server serves a Store.
type Server struct {
	store  store.Store
	logger *logrus.Logger
}

// New creates a server over st.
func New(st store.Store, logger *logrus.Logger) *Server {
	return &Server{store: st, logger: logger}
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(s.logger))
	router.GET("/healthz", s.getHealth)
	router.GET("/tables", s.getTables)
	router.GET("/tables/:chain/:bw", s.getTable)
	router.GET("/tables/:chain/:bw/points/:freq", s.getPoint)
	return router
}

// Run serves on ln until ctx is cancelled.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Router()}

	errc := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ListenAndRun listens on addr and calls Run.
func (s *Server) ListenAndRun(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Run(ctx, ln)
}

type errorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, status int, err error) {
	c.IndentedJSON(status, errorResponse{Error: err.Error()})
	_ = c.AbortWithError(status, err)
}

func (s *Server) getHealth(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getTables(c *gin.Context) {
	keys, err := s.store.Keys(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	if keys == nil {
		keys = []store.Key{}
	}
	c.IndentedJSON(http.StatusOK, keys)
}

func parseKey(c *gin.Context) (store.Key, error) {
	chain, err := strconv.Atoi(c.Param("chain"))
	if err != nil || chain < 0 {
		return store.Key{}, errors.New("chain must be a non-negative integer")
	}
	bw, err := strconv.Atoi(c.Param("bw"))
	if err != nil || bw <= 0 {
		return store.Key{}, errors.New("bandwidth must be a positive integer")
	}
	return store.Key{Chain: chain, BandwidthMHz: bw}, nil
}

func (s *Server) read(c *gin.Context) (*store.Entry, bool) {
	k, err := parseKey(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return nil, false
	}
	e, err := s.store.Read(c.Request.Context(), k)
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return nil, false
	}
	return e, true
}

func (s *Server) getTable(c *gin.Context) {
	if e, ok := s.read(c); ok {
		c.IndentedJSON(http.StatusOK, e)
	}
}

// Point is the stored setting nearest to a requested frequency.
type Point struct {
	RequestedMHz float64            `json:"requestedMhz"`
	FreqMHz      float64            `json:"freqMhz"`
	Codes        map[string]int64   `json:"codes"`
	AttenDB      map[string]float64 `json:"attenDb"`
	Temperature  int                `json:"temperature"`
	RunID        string             `json:"runId"`
}

func (s *Server) getPoint(c *gin.Context) {
	freq, err := strconv.ParseFloat(c.Param("freq"), 64)
	if err != nil {
		abort(c, http.StatusBadRequest, errors.New("freq must be a number in MHz"))
		return
	}
	e, ok := s.read(c)
	if !ok {
		return
	}

	d := e.Table
	i, err := d.Nearest(freq)
	if errors.Is(err, table.ErrOutOfDomain) || errors.Is(err, table.ErrNoData) {
		abort(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	p := Point{
		RequestedMHz: freq,
		FreqMHz:      d.Freqs[i],
		Codes:        make(map[string]int64, len(hw.Stages)),
		AttenDB:      make(map[string]float64, len(hw.Stages)),
		Temperature:  d.Temperature,
		RunID:        e.RunID,
	}
	for _, stage := range hw.Stages {
		p.Codes[stage.String()] = d.Column(stage)[i]
		p.AttenDB[stage.String()] = d.AttenuationDB(stage, i)
	}
	c.IndentedJSON(http.StatusOK, p)
}
