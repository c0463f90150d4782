package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pollTimeout = time.Second
	replyTTL    = time.Minute
)

// HandlerFunc serves one command. The returned value is JSON-encoded as the
// reply result.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Server pops requests off a queue and runs each in its own goroutine.
type Server struct {
	rdb      *redis.Client
	queue    string
	handlers map[string]HandlerFunc
	kindOf   func(error) string
	logger   *slog.Logger
}

// NewServer creates a Server for queue. kindOf maps handler errors onto the
// kind string sent back to requesters.
func NewServer(rdb *redis.Client, queue string, kindOf func(error) string, logger *slog.Logger) *Server {
	return &Server{
		rdb:      rdb,
		queue:    queue,
		handlers: make(map[string]HandlerFunc),
		kindOf:   kindOf,
		logger:   logger.With(slog.String("component", "bus_server"), slog.String("queue", queue)),
	}
}

// Handle registers h for cmd. It must be called before Serve.
func (s *Server) Handle(cmd string, h HandlerFunc) {
	s.handlers[cmd] = h
}

// Serve consumes the queue until ctx is cancelled, then waits for in-flight
// handlers to finish.
func (s *Server) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Info("bus server started")
	defer s.logger.Info("bus server stopped")

	for {
		res, err := s.rdb.BRPop(ctx, pollTimeout, s.queue).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			s.logger.Warn("queue pop failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollTimeout):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		raw := []byte(res[1])
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveOne(ctx, raw)
		}()
	}
}

func (s *Server) serveOne(ctx context.Context, raw []byte) {
	reply, replyTo, ok := s.Dispatch(ctx, raw)
	if !ok {
		return
	}

	body, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("marshal reply", slog.String("id", reply.ID), slog.String("error", err.Error()))
		return
	}

	// The request context may already be cancelled on shutdown; the reply
	// still has to reach the waiting caller.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	pipe := s.rdb.TxPipeline()
	pipe.LPush(sendCtx, replyTo, body)
	pipe.Expire(sendCtx, replyTo, replyTTL)
	if _, err := pipe.Exec(sendCtx); err != nil {
		s.logger.Error("send reply", slog.String("id", reply.ID), slog.String("error", err.Error()))
	}
}

// Dispatch decodes one request and runs its handler. ok is false when the
// request is malformed and there is nowhere to reply.
func (s *Server) Dispatch(ctx context.Context, raw []byte) (reply Reply, replyTo string, ok bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.ReplyTo == "" {
		s.logger.Warn("dropping malformed request", slog.Int("bytes", len(raw)))
		return Reply{}, "", false
	}

	reply.ID = env.ID
	h, found := s.handlers[env.Cmd]
	if !found {
		reply.Error = &ErrorBody{Kind: KindUnknownCommand, Message: "unknown command " + env.Cmd}
		return reply, env.ReplyTo, true
	}

	start := time.Now()
	result, err := h(ctx, env.Payload)
	if err != nil {
		kind := s.kindOf(err)
		s.logger.Info("command failed",
			slog.String("cmd", env.Cmd),
			slog.String("id", env.ID),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		reply.Error = &ErrorBody{Kind: kind, Message: err.Error()}
		return reply, env.ReplyTo, true
	}

	body, err := json.Marshal(result)
	if err != nil {
		reply.Error = &ErrorBody{Kind: s.kindOf(err), Message: err.Error()}
		return reply, env.ReplyTo, true
	}
	reply.Result = body
	s.logger.Debug("command served",
		slog.String("cmd", env.Cmd),
		slog.String("id", env.ID),
		slog.Duration("took", time.Since(start)),
	)
	return reply, env.ReplyTo, true
}
