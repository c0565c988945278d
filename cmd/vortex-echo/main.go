// Command vortex-echo is a minimal demonstration binary wiring routes,
// middleware, and a WebSocket echo handler onto server.Server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/badu/vortex/internal/vlog"
	"github.com/badu/vortex/message"
	"github.com/badu/vortex/middleware"
	"github.com/badu/vortex/server"
	"github.com/badu/vortex/websocket"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	threads := flag.Int("threads", 0, "worker count (0 = default)")
	flag.Parse()

	log := vlog.New("vortex-echo")

	s := server.New()
	s.Threads(*threads)
	s.Log = log.Errorf

	s.Use(requestLogMiddleware(log))

	s.Get("/", func(req *message.Request) *message.Response {
		return message.NewResponse().Text(200, "vortex-echo online")
	})
	s.Get("/echo/{word}", func(req *message.Request) *message.Response {
		word, _ := req.ParamByName("word")
		return message.NewResponse().Text(200, word)
	})
	s.Post("/echo", func(req *message.Request) *message.Response {
		return message.NewResponse().Bytes(200, req.Header.Get("Content-Type"), req.Body)
	})
	s.WS("/ws", echoWebSocketHandler())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		if err := s.Shutdown(shCtx, server.ShutdownOptions{DrainTimeout: 5 * time.Second, ForceCloseAfterTimeout: true}); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	fmt.Printf("vortex-echo listening on %s\n", *addr)
	if err := s.Run(ctx, *addr); err != nil {
		log.Errorf("run: %v", err)
		os.Exit(1)
	}
}

func requestLogMiddleware(log *vlog.Logger) middleware.Middleware {
	return func(req *message.Request, next middleware.Next) *message.Response {
		start := time.Now()
		resp := next(req)
		log.WithField("request_id", req.ID).Errorf("%s %s -> %d (%s)", req.Method, req.Path, resp.Status, time.Since(start))
		return resp
	}
}

func echoWebSocketHandler() websocket.Handler {
	return func(ctx context.Context, conn *websocket.Connection) {
		for {
			msg, ok, err := conn.Receive(ctx)
			if err != nil || !ok {
				return
			}
			if msg.Binary {
				conn.SendBinary(msg.Payload)
			} else {
				conn.SendText(string(msg.Payload))
			}
		}
	}
}
