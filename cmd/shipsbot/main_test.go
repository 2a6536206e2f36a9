package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shipsbot/internal/commands"
	"shipsbot/internal/discord"
)

type events []string

type fakeScheduler struct {
	log *events
	err error
}

func (f fakeScheduler) Start(context.Context) error {
	*f.log = append(*f.log, "sched.start")
	return f.err
}

func (f fakeScheduler) Stop() { *f.log = append(*f.log, "sched.stop") }

type fakeGateway struct {
	log *events
	err error
}

func (f fakeGateway) Open(context.Context, discord.Handler) error {
	*f.log = append(*f.log, "gateway.open")
	return f.err
}

func (f fakeGateway) Close() error {
	*f.log = append(*f.log, "gateway.close")
	return nil
}

type noopHandler struct{}

func (noopHandler) Handle(context.Context, commands.Request) (string, bool) { return "", false }

func TestStartOrdersSchedulerBeforeGateway(t *testing.T) {
	var log events
	shutdown, err := start(context.Background(), fakeScheduler{log: &log}, fakeGateway{log: &log}, noopHandler{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	shutdown()
	got := strings.Join(log, ",")
	if got != "sched.start,gateway.open,gateway.close,sched.stop" {
		t.Fatalf("order = %s", got)
	}
}

func TestStartStopsSchedulerWhenGatewayFails(t *testing.T) {
	var log events
	_, err := start(context.Background(), fakeScheduler{log: &log}, fakeGateway{log: &log, err: errors.New("bad token")}, noopHandler{})
	if err == nil || !strings.Contains(err.Error(), "bad token") {
		t.Fatalf("err = %v", err)
	}
	if got := strings.Join(log, ","); got != "sched.start,gateway.open,sched.stop" {
		t.Fatalf("order = %s", got)
	}

	log = nil
	if _, err := start(context.Background(), fakeScheduler{log: &log, err: errors.New("db down")}, fakeGateway{log: &log}, noopHandler{}); err == nil {
		t.Fatalf("expected scheduler error")
	}
	if got := strings.Join(log, ","); got != "sched.start" {
		t.Fatalf("gateway opened after scheduler failure: %s", got)
	}
}
