package beanstalkd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"go.chronowheel.dev/internal/scheduler"
)

func startTestServer(t *testing.T) (net.Conn, func()) {
	t.Helper()

	s, err := scheduler.New(10)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	srv := NewServer(s)
	ctx, cancel := context.WithCancel(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(ctx, conn)
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	cleanup := func() {
		cancel()
		conn.Close()
		ln.Close()
	}
	return conn, cleanup
}

func TestPut_RepliesInserted(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	body := "hello"
	fmt.Fprintf(conn, "put %d %d\r\n%s\r\n", time.Now().Add(time.Hour).UnixMilli(), len(body), body)

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.HasPrefix(reply, "INSERTED ") {
		t.Fatalf("expected INSERTED reply, got %q", reply)
	}
}

func TestPutThenDelete(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	reader := bufio.NewReader(conn)

	body := "x"
	fmt.Fprintf(conn, "put %d %d\r\n%s\r\n", time.Now().Add(time.Hour).UnixMilli(), len(body), body)
	reply, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read put reply: %v", err)
	}
	id := strings.TrimSpace(strings.TrimPrefix(reply, "INSERTED "))

	fmt.Fprintf(conn, "delete %s\r\n", id)
	reply, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read delete reply: %v", err)
	}
	if strings.TrimSpace(reply) != "DELETED" {
		t.Fatalf("expected DELETED, got %q", reply)
	}

	fmt.Fprintf(conn, "delete %s\r\n", id)
	reply, err = reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read second delete reply: %v", err)
	}
	if strings.TrimSpace(reply) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND on repeat delete, got %q", reply)
	}
}

func TestStatsJob_UnknownID(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	fmt.Fprintf(conn, "stats-job %s\r\n", "00000000-0000-0000-0000-000000000000")
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if strings.TrimSpace(reply) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %q", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	conn, cleanup := startTestServer(t)
	defer cleanup()

	fmt.Fprintf(conn, "frobnicate\r\n")
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if strings.TrimSpace(reply) != "UNKNOWN_COMMAND" {
		t.Fatalf("expected UNKNOWN_COMMAND, got %q", reply)
	}
}
