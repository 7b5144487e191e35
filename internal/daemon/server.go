// Package daemon implements the local transfer daemon: an HTTP server
// bound to loopback that accepts fan-out requests from hooks and performs
// git push/fetch against peers off the client's critical path.
package daemon

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"piehole/internal/gitcli"
	"piehole/internal/kvclient"
	"piehole/internal/replication"
	"piehole/internal/reposanity"
)

// Addr is the fixed loopback address the daemon binds to.
const Addr = "127.0.0.1:3690"

// Server is the transfer daemon's HTTP server.
type Server struct {
	log       *logrus.Logger
	eventLog  *EventLog
	startedAt time.Time
	inFlight  int64
}

// New creates a Server. logger may be nil, in which case a default
// logrus.Logger writing to stderr is used.
func New(eventLog *EventLog, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{log: logger, eventLog: eventLog, startedAt: time.Now()}
}

// Router builds the gin engine with all daemon routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.loggerMiddleware(), s.recoveryMiddleware())
	r.POST("/", s.handleRequest)
	return r
}

// ListenAndServe runs the daemon until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: Addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleRequest(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "%v", err)
		return
	}
	action := c.Request.FormValue("action")

	switch action {
	case "ping":
		s.handlePing(c)
	case "status":
		c.JSON(http.StatusOK, gin.H{
			"refs_in_flight": atomic.LoadInt64(&s.inFlight),
			"uptime_seconds": time.Since(s.startedAt).Seconds(),
		})
	case "push":
		s.handleTransfer(c, "push")
	case "fetch":
		s.handleTransfer(c, "fetch")
	default:
		c.String(http.StatusBadRequest, "unknown action %q", action)
	}
}

// repoConfig bundles the piehole.* values every transfer or diagnostic
// request needs once it has resolved a repo path.
type repoConfig struct {
	group, self string
	kv          *kvclient.Client
}

// resolveRepoConfig reads the four piehole.* config keys for repo and
// builds the KV client used to reach its replication group's authority.
func resolveRepoConfig(ctx context.Context, git *gitcli.Runner) (repoConfig, error) {
	group, err := git.Config(ctx, "repogroup")
	if err != nil {
		return repoConfig{}, err
	}
	self, err := git.Config(ctx, "repourl")
	if err != nil {
		return repoConfig{}, err
	}
	kvRoot, err := git.Config(ctx, "etcdroot")
	if err != nil {
		return repoConfig{}, err
	}
	kvPrefix, err := git.Config(ctx, "etcdprefix")
	if err != nil {
		return repoConfig{}, err
	}
	return repoConfig{group: group, self: self, kv: kvclient.New(kvRoot, kvPrefix, 0)}, nil
}

// handlePing answers a liveness probe. When a repo parameter is supplied,
// it also resolves that repo's replication group and reports the group's
// diagnostic enrollment-epoch counter in the X-Piehole-Epoch response
// header — a read-only aid for operators, never consulted by any hook.
func (s *Server) handlePing(c *gin.Context) {
	if repo := c.Request.FormValue("repo"); repo != "" {
		ctx := c.Request.Context()
		git := gitcli.New(repo)
		if cfg, err := resolveRepoConfig(ctx, git); err == nil && cfg.group != "" {
			if epoch, err := replication.Epoch(ctx, cfg.kv, cfg.group); err == nil {
				c.Header("X-Piehole-Epoch", strconv.FormatInt(epoch, 10))
			}
		}
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleTransfer(c *gin.Context, action string) {
	repo := c.Request.FormValue("repo")
	ref := c.Request.FormValue("ref")
	if repo == "" || ref == "" {
		c.String(http.StatusBadRequest, "missing required parameter: repo and ref are both required")
		return
	}

	git := gitcli.New(repo)
	ctx := c.Request.Context()

	if err := reposanity.SanityCheck(ctx, git, repo, true); err != nil {
		c.String(http.StatusBadRequest, "%v", err)
		return
	}

	cfg, err := resolveRepoConfig(ctx, git)
	if err != nil {
		c.String(http.StatusInternalServerError, "%v", err)
		return
	}
	group, self, kv := cfg.group, cfg.self, cfg.kv

	// The actual transfer happens after the response is sent — the
	// client only learns the request was accepted.
	c.Status(http.StatusOK)
	c.Writer.Flush()

	atomic.AddInt64(&s.inFlight, 1)
	go func() {
		defer atomic.AddInt64(&s.inFlight, -1)
		runCtx := context.Background()

		var runErr error
		switch action {
		case "push":
			runErr = fanOutPush(runCtx, gitcli.New(repo), kv, s.eventLog, repo, group, self, ref)
		case "fetch":
			runErr = fanOutFetch(runCtx, gitcli.New(repo), kv, s.eventLog, repo, group, self, ref)
		}
		if runErr != nil {
			s.log.WithFields(logrus.Fields{
				"action": action, "repo": repo, "ref": ref,
			}).WithError(runErr).Warn("transfer fan-out failed")
		}
	}()
}
