// Package mockapi is an in-memory DCN API server used by the SDK's
// integration tests and by the dcn-mockd command for local development. It
// implements the wallet-login flow, the token pair lifecycle, and the
// feature/transformation/execute surface against process-local state.
package mockapi

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hypermusic-ai/dcn-go/pkg/client"
	"github.com/hypermusic-ai/dcn-go/pkg/identity"
)

// Config controls the mock server.
type Config struct {
	// JWTSecret signs access tokens (HS256). Required.
	JWTSecret []byte
	// AccessTTL is the access token lifetime at login. A negative TTL issues
	// already-expired tokens, which is how tests exercise the refresh path.
	AccessTTL time.Duration
	// RefreshTTL is the lifetime of access tokens issued by /refresh.
	// Defaults to AccessTTL.
	RefreshTTL time.Duration
	// Version is reported by GET /version.
	Version string
	// CORSOrigins configures the CORS allow list. Empty means "*".
	CORSOrigins []string
	// RateLimitRPS enables per-IP rate limiting when positive.
	RateLimitRPS int
}

type storedFeature struct {
	client.FeatureResponse
}

type storedTransformation struct {
	client.TransformationResponse
}

// Server holds the mock API state. All maps are guarded by mu.
type Server struct {
	cfg    Config
	logger *zap.Logger

	mu              sync.Mutex
	nonces          map[string]string // address -> outstanding nonce
	refreshTokens   map[string]string // refresh token -> address
	features        map[string][]storedFeature
	transformations map[string][]storedTransformation
}

// New creates a mock server. The logger may be nil.
func New(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "0.0.0-mock"
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = cfg.AccessTTL
	}
	return &Server{
		cfg:             cfg,
		logger:          logger,
		nonces:          make(map[string]string),
		refreshTokens:   make(map[string]string),
		features:        make(map[string][]storedFeature),
		transformations: make(map[string][]storedTransformation),
	}
}

// Router builds the gin router with all routes mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Refresh-Token", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})
	if s.cfg.RateLimitRPS > 0 {
		router.Use(rateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitRPS*2))
	}
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(s.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/version", s.getVersion)
	router.GET("/nonce/:address", s.getNonce)
	router.POST("/auth", s.postAuth)
	router.POST("/refresh", s.postRefresh)

	router.GET("/feature/:name", s.getFeature)
	router.GET("/feature/:name/:version", s.getFeature)
	router.GET("/transformation/:name", s.getTransformation)
	router.GET("/transformation/:name/:version", s.getTransformation)

	authed := router.Group("/", s.requireAuth)
	authed.GET("/account/:address", s.getAccount)
	authed.POST("/feature", s.postFeature)
	authed.POST("/transformation", s.postTransformation)
	authed.GET("/execute/:name/:num_samples", s.getExecute)

	return router
}

// ─── Auth ────────────────────────────────────────────────────────────────────

func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": s.cfg.Version})
}

// getNonce hands out a fresh single-use nonce for the address. Requesting a
// new nonce invalidates the previous one.
func (s *Server) getNonce(c *gin.Context) {
	address := identity.ChecksumAddress(c.Param("address"))
	nonce := uuid.New().String()

	s.mu.Lock()
	s.nonces[address] = nonce
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

// postAuth verifies the signed login message and issues a token pair. The
// nonce is consumed whether or not verification succeeds.
func (s *Server) postAuth(c *gin.Context) {
	var req client.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	address := identity.ChecksumAddress(req.Address)

	s.mu.Lock()
	nonce, ok := s.nonces[address]
	delete(s.nonces, address)
	s.mu.Unlock()

	if !ok || req.Message != client.LoginMessage(nonce) {
		recordLogin(false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or stale nonce"})
		return
	}

	recovered, err := identity.RecoverAddress(req.Message, req.Signature)
	if err != nil || recovered != address {
		recordLogin(false)
		s.logger.Warn("login signature rejected", zap.String("address", address), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	access, err := s.issueAccessToken(address, s.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	refresh := uuid.New().String()

	s.mu.Lock()
	s.refreshTokens[refresh] = address
	s.mu.Unlock()

	recordLogin(true)
	s.logger.Info("login", zap.String("address", address))
	c.JSON(http.StatusOK, gin.H{"access_token": access, "refresh_token": refresh})
}

// postRefresh exchanges a refresh token for a new access token. The refresh
// token stays valid; clients keep it across rotations.
func (s *Server) postRefresh(c *gin.Context) {
	refresh := c.GetHeader("X-Refresh-Token")
	if refresh == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing refresh token"})
		return
	}

	s.mu.Lock()
	address, ok := s.refreshTokens[refresh]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown refresh token"})
		return
	}

	access, err := s.issueAccessToken(address, s.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": access})
}

func (s *Server) issueAccessToken(address string, ttl time.Duration) (string, error) {
	now := time.Now()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": address,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}).SignedString(s.cfg.JWTSecret)
}

// requireAuth validates the Bearer access token and stores the caller address
// in the request context.
func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.cfg.JWTSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	sub, _ := claims.GetSubject()
	c.Set("address", sub)
	c.Next()
}

func callerAddress(c *gin.Context) string {
	return c.GetString("address")
}

// ─── Resources ───────────────────────────────────────────────────────────────

func (s *Server) getAccount(c *gin.Context) {
	address := identity.ChecksumAddress(c.Param("address"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	if limit <= 0 {
		limit = 10
	}
	if page < 0 {
		page = 0
	}

	s.mu.Lock()
	var features, transformations []client.ResourceRef
	for _, versions := range s.features {
		for _, f := range versions {
			if f.Owner == address {
				features = append(features, client.ResourceRef{Name: f.Name, Version: f.Version})
			}
		}
	}
	for _, versions := range s.transformations {
		for _, tr := range versions {
			if tr.Owner == address {
				transformations = append(transformations, client.ResourceRef{Name: tr.Name, Version: tr.Version})
			}
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, client.AccountResponse{
		Address:         address,
		Features:        pageOf(features, limit, page),
		Transformations: pageOf(transformations, limit, page),
		Limit:           limit,
		Page:            page,
	})
}

func pageOf(refs []client.ResourceRef, limit, page int) []client.ResourceRef {
	if page < 0 {
		page = 0
	}
	start := page * limit
	if start >= len(refs) {
		return nil
	}
	end := min(start+limit, len(refs))
	return refs[start:end]
}

func (s *Server) postFeature(c *gin.Context) {
	var req client.FeatureCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feature name is required"})
		return
	}

	s.mu.Lock()
	version := strconv.Itoa(len(s.features[req.Name]) + 1)
	feat := storedFeature{client.FeatureResponse{
		Name:       req.Name,
		Version:    version,
		Owner:      callerAddress(c),
		Dimensions: req.Dimensions,
	}}
	s.features[req.Name] = append(s.features[req.Name], feat)
	s.mu.Unlock()

	c.JSON(http.StatusOK, feat.FeatureResponse)
}

func (s *Server) getFeature(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")

	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.features[name]
	if len(versions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "feature not found"})
		return
	}
	if version == "" {
		c.JSON(http.StatusOK, versions[len(versions)-1].FeatureResponse)
		return
	}
	for _, f := range versions {
		if f.Version == version {
			c.JSON(http.StatusOK, f.FeatureResponse)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "feature version not found"})
}

func (s *Server) postTransformation(c *gin.Context) {
	var req client.TransformationCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transformation name is required"})
		return
	}

	s.mu.Lock()
	version := strconv.Itoa(len(s.transformations[req.Name]) + 1)
	tr := storedTransformation{client.TransformationResponse{
		Name:    req.Name,
		Version: version,
		Owner:   callerAddress(c),
		SolSrc:  req.SolSrc,
	}}
	s.transformations[req.Name] = append(s.transformations[req.Name], tr)
	s.mu.Unlock()

	c.JSON(http.StatusOK, tr.TransformationResponse)
}

func (s *Server) getTransformation(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")

	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.transformations[name]
	if len(versions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "transformation not found"})
		return
	}
	if version == "" {
		c.JSON(http.StatusOK, versions[len(versions)-1].TransformationResponse)
		return
	}
	for _, tr := range versions {
		if tr.Version == version {
			c.JSON(http.StatusOK, tr.TransformationResponse)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "transformation version not found"})
}

// ─── Execute ─────────────────────────────────────────────────────────────────

var runningInstanceRe = regexp.MustCompile(`\((-?\d+);(-?\d+)\)`)

// parseRunningInstances decodes the concatenated "(start;shift)" form. The
// boolean is false when the string contains anything besides well-formed
// pairs.
func parseRunningInstances(raw string) ([]client.RunningInstance, bool) {
	if raw == "" {
		return nil, true
	}
	matches := runningInstanceRe.FindAllStringSubmatch(raw, -1)
	if strings.Join(collectMatches(matches), "") != raw {
		return nil, false
	}
	out := make([]client.RunningInstance, 0, len(matches))
	for _, m := range matches {
		start, _ := strconv.Atoi(m[1])
		shift, _ := strconv.Atoi(m[2])
		out = append(out, client.RunningInstance{Start: start, Shift: shift})
	}
	return out, true
}

func collectMatches(matches [][]string) []string {
	whole := make([]string, len(matches))
	for i, m := range matches {
		whole[i] = m[0]
	}
	return whole
}

// getExecute generates deterministic sample sequences for a stored feature.
// Each dimension yields an arithmetic sequence seeded by its running
// instance; dimensions beyond the provided instances start at (0;1).
func (s *Server) getExecute(c *gin.Context) {
	name := c.Param("name")
	numSamples, err := strconv.Atoi(c.Param("num_samples"))
	if err != nil || numSamples < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "num_samples must be a non-negative integer"})
		return
	}

	instances, ok := parseRunningInstances(c.Query("running_instances"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed running_instances"})
		return
	}

	s.mu.Lock()
	versions := s.features[name]
	s.mu.Unlock()
	if len(versions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "feature not found"})
		return
	}
	feat := versions[len(versions)-1]

	dims := make([]string, 0, len(feat.Dimensions))
	for _, d := range feat.Dimensions {
		dims = append(dims, d.FeatureName)
	}
	if len(dims) == 0 {
		dims = []string{feat.Name}
	}

	samples := make(map[string][]int, len(dims))
	for i, dim := range dims {
		inst := client.RunningInstance{Shift: 1}
		if i < len(instances) {
			inst = instances[i]
		}
		seq := make([]int, numSamples)
		for n := range seq {
			seq[n] = inst.Start + n*inst.Shift
		}
		samples[dim] = seq
	}

	c.JSON(http.StatusOK, client.ExecuteResponse{
		FeatureName: feat.Name,
		NumSamples:  numSamples,
		Samples:     samples,
	})
}

// requestLogger logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
