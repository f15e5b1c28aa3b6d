package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/betbot/lagbet/pkg/logger"
)

var srvLog = logger.WithField("component", "metrics")

// mux 自建路由，不碰 DefaultServeMux 的全局状态
func mux() *http.ServeMux {
	m := http.NewServeMux()
	m.Handle("/debug/vars", expvar.Handler())
	m.HandleFunc("/debug/pprof/", pprof.Index)
	m.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return m
}

// StartAsync 非阻塞启动 expvar + pprof 服务，ctx 结束时优雅关闭。
// 只建议监听 localhost 或内网地址。
func StartAsync(ctx context.Context, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{Addr: addr, Handler: mux()}

	go func() {
		srvLog.Infof("metrics 服务监听 %s", addr)
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvLog.Warnf("metrics 服务异常退出: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	return s, nil
}
