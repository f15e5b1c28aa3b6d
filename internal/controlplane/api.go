package controlplane

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/lagbet/internal/domain"
	"github.com/betbot/lagbet/internal/engine"
	"github.com/betbot/lagbet/internal/journal"
	"github.com/betbot/lagbet/internal/position"
	"github.com/betbot/lagbet/internal/rotator"
	"github.com/betbot/lagbet/pkg/logger"
)

var log = logger.WithField("component", "controlplane")

// Server 控制面 API
// 只读端点暴露引擎状态，写端点只有配置热更新和当日盈亏归零。
// LAGBET_API_TOKEN 设置时全部端点要求令牌
type Server struct {
	engine    *engine.Engine
	positions *position.Manager
	rotator   *rotator.Rotator
	journal   *journal.Journal // 可为 nil

	httpSrv *http.Server
}

func New(eng *engine.Engine, pm *position.Manager, rot *rotator.Rotator, jnl *journal.Journal) *Server {
	return &Server{engine: eng, positions: pm, rotator: rot, journal: jnl}
}

// Router 组装路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.Use(tokenAuth())
	api.GET("/status", s.handleStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/stats", s.handleStats)
	api.GET("/trades", s.handleTrades)
	api.POST("/config", s.handleConfigUpdate)
	api.POST("/pnl/reset", s.handlePnlReset)

	return r
}

// Start 启动 HTTP 服务（非阻塞），ctx 结束时优雅关闭
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Router()}

	go func() {
		log.Infof("控制面 API 监听 %s", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("控制面 API 异常退出: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()
	return nil
}

// tokenAuth LAGBET_API_TOKEN 未设置时放行（本机调试模式）
func tokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := os.Getenv("LAGBET_API_TOKEN")
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-API-Token")
		if got == "" {
			got = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if got != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效的 API 令牌"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	cfg := s.engine.Config()
	c.JSON(http.StatusOK, gin.H{
		"running":     s.engine.Running(),
		"dryRun":      cfg.DryRun,
		"assets":      cfg.Assets,
		"config":      cfg,
		"markets":     s.rotator.Markets(),
		"openCount":   s.positions.OpenCount(),
		"dailyPnlUsd": s.positions.DailyPnlUsd(),
		"time":        time.Now(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.positions.OpenPositions()})
}

func (s *Server) handleStats(c *gin.Context) {
	resp := gin.H{"stats": s.positions.Stats()}
	if s.journal != nil {
		if daily, err := s.journal.DailyHistory(30); err == nil {
			resp["daily"] = daily
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	// 流水库在时从库里读（重启后仍有历史），否则退回内存历史
	if s.journal != nil {
		trades, err := s.journal.RecentTrades(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades})
		return
	}

	history := s.positions.ClosedHistory()
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"trades": history})
}

func (s *Server) handleConfigUpdate(c *gin.Context) {
	var patch domain.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法解析配置 patch: " + err.Error()})
		return
	}
	next, err := s.engine.UpdateConfig(&patch)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": next})
}

func (s *Server) handlePnlReset(c *gin.Context) {
	prev := s.positions.ResetDailyPnl()
	c.JSON(http.StatusOK, gin.H{"previousDailyPnlUsd": prev})
}
