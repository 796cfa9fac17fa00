// Package beanstalkd implements a beanstalkd-flavoured line protocol over
// the Scheduler facade: put/reserve/delete/stats-job, 1:1 translated onto
// Enqueue/Drain/Cancel/FindOwner. It introduces no new core semantics.
package beanstalkd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.chronowheel.dev/internal/common/metrics"
	"go.chronowheel.dev/internal/scheduler"
)

// ReserveTimeout bounds how long a reserve command short-polls Drain
// before replying TIMED_OUT.
const ReserveTimeout = 30 * time.Second

// reservePollInterval is how often a blocked reserve rechecks Drain.
const reservePollInterval = 50 * time.Millisecond

// Server accepts line-protocol connections and drives a Scheduler.
type Server struct {
	scheduler *scheduler.Scheduler
	listener  net.Listener
}

// NewServer constructs a Server over s; ListenAndServe binds the address
// and starts serving.
func NewServer(s *scheduler.Scheduler) *Server {
	return &Server{scheduler: s}
}

// ListenAndServe binds addr and serves connections until ctx is
// cancelled.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("beanstalkd-flavoured protocol server listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		metrics.ProtocolConnections.Inc()
		go srv.handleConn(ctx, conn)
	}
}

// Close stops the listener, unblocking any in-progress Accept.
func (srv *Server) Close() error {
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Close()
}

func (srv *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer metrics.ProtocolConnections.Dec()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("protocol connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		if err := srv.dispatch(ctx, conn, reader, line); err != nil {
			slog.Warn("protocol command failed", "error", err)
			return
		}
	}
}

func (srv *Server) dispatch(ctx context.Context, conn net.Conn, reader *bufio.Reader, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "put":
		return srv.handlePut(conn, reader, fields)
	case "reserve":
		return srv.handleReserve(ctx, conn)
	case "delete":
		return srv.handleDelete(conn, fields)
	case "stats-job":
		return srv.handleStatsJob(conn, fields)
	default:
		metrics.ProtocolCommandsTotal.WithLabelValues(fields[0], "error").Inc()
		return writeLine(conn, "UNKNOWN_COMMAND")
	}
}

// handlePut implements: put <trigger-at-ms> <bytes>\r\n<body>\r\n
func (srv *Server) handlePut(conn net.Conn, reader *bufio.Reader, fields []string) error {
	if len(fields) != 3 {
		metrics.ProtocolCommandsTotal.WithLabelValues("put", "error").Inc()
		return writeLine(conn, "BAD_FORMAT")
	}

	triggerAtMs, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		metrics.ProtocolCommandsTotal.WithLabelValues("put", "error").Inc()
		return writeLine(conn, "BAD_FORMAT")
	}

	bodyLen, err := strconv.Atoi(fields[2])
	if err != nil || bodyLen < 0 {
		metrics.ProtocolCommandsTotal.WithLabelValues("put", "error").Inc()
		return writeLine(conn, "BAD_FORMAT")
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(reader, body); err != nil {
		metrics.ProtocolCommandsTotal.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("read body: %w", err)
	}
	// Trailing \r\n after the body.
	if _, err := reader.ReadString('\n'); err != nil {
		return fmt.Errorf("read body terminator: %w", err)
	}

	id := srv.scheduler.Enqueue(triggerAtMs, body)
	metrics.ProtocolCommandsTotal.WithLabelValues("put", "ok").Inc()
	return writeLine(conn, fmt.Sprintf("INSERTED %s", id))
}

// handleReserve implements: reserve\r\n, short-polling Drain until a job
// is ready or ReserveTimeout elapses.
func (srv *Server) handleReserve(ctx context.Context, conn net.Conn) error {
	deadline := time.Now().Add(ReserveTimeout)
	ticker := time.NewTicker(reservePollInterval)
	defer ticker.Stop()

	for {
		jobs := srv.scheduler.Drain(ctx)
		for _, j := range jobs {
			metrics.ProtocolCommandsTotal.WithLabelValues("reserve", "ok").Inc()
			if err := writeLine(conn, fmt.Sprintf("RESERVED %s %d", j.ID, len(j.Body))); err != nil {
				return err
			}
			if _, err := conn.Write(append(j.Body, '\r', '\n')); err != nil {
				return err
			}
		}
		if len(jobs) > 0 {
			return nil
		}

		if time.Now().After(deadline) {
			metrics.ProtocolCommandsTotal.WithLabelValues("reserve", "error").Inc()
			return writeLine(conn, "TIMED_OUT")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handleDelete implements: delete <id>\r\n
func (srv *Server) handleDelete(conn net.Conn, fields []string) error {
	if len(fields) != 2 {
		metrics.ProtocolCommandsTotal.WithLabelValues("delete", "error").Inc()
		return writeLine(conn, "BAD_FORMAT")
	}

	id, err := uuid.Parse(fields[1])
	if err != nil {
		metrics.ProtocolCommandsTotal.WithLabelValues("delete", "error").Inc()
		return writeLine(conn, "BAD_FORMAT")
	}

	if srv.scheduler.Cancel(id) {
		metrics.ProtocolCommandsTotal.WithLabelValues("delete", "ok").Inc()
		return writeLine(conn, "DELETED")
	}
	metrics.ProtocolCommandsTotal.WithLabelValues("delete", "error").Inc()
	return writeLine(conn, "NOT_FOUND")
}

// handleStatsJob implements: stats-job <id>\r\n
func (srv *Server) handleStatsJob(conn net.Conn, fields []string) error {
	if len(fields) != 2 {
		metrics.ProtocolCommandsTotal.WithLabelValues("stats-job", "error").Inc()
		return writeLine(conn, "BAD_FORMAT")
	}

	id, err := uuid.Parse(fields[1])
	if err != nil {
		metrics.ProtocolCommandsTotal.WithLabelValues("stats-job", "error").Inc()
		return writeLine(conn, "BAD_FORMAT")
	}

	bounds, ok := srv.scheduler.FindOwner(id)
	if !ok {
		metrics.ProtocolCommandsTotal.WithLabelValues("stats-job", "error").Inc()
		return writeLine(conn, "NOT_FOUND")
	}

	body := fmt.Sprintf("start-ms: %d\nend-ms: %d\n", bounds.StartMs, bounds.EndMs)
	metrics.ProtocolCommandsTotal.WithLabelValues("stats-job", "ok").Inc()
	if err := writeLine(conn, fmt.Sprintf("OK %d", len(body))); err != nil {
		return err
	}
	_, err = conn.Write([]byte(body + "\r\n"))
	return err
}

func writeLine(conn net.Conn, line string) error {
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}
