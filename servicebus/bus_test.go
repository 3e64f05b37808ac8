package servicebus_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	berr "github.com/next-trace/scg-room-booking/contract/errors"
	"github.com/next-trace/scg-room-booking/servicebus"
)

type gCmd struct{ ID string }

type badCmd struct{ X int }

type gQry struct{ K string }

type gRes struct{ V string }

type gCmdHandler struct {
	seen *[]string
	err  error
}

func (h gCmdHandler) Handle(_ context.Context, c gCmd) error {
	*h.seen = append(*h.seen, c.ID)
	return h.err
}

type gQryHandler struct{}

func (gQryHandler) Handle(_ context.Context, q gQry) (gRes, error) { return gRes{V: q.K}, nil }

type intQryHandler struct{}

func (intQryHandler) Handle(context.Context, gQry) (int, error) { return 1, nil }

func Test_GenericBindAndDispatch(t *testing.T) {
	b := servicebus.New(nil)

	var seen []string
	if err := servicebus.BindCommand[gCmd](b, gCmdHandler{seen: &seen}); err != nil {
		t.Fatalf("bind cmd: %v", err)
	}

	if err := servicebus.BindCommand[gCmd](b, gCmdHandler{seen: &seen}); !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("want ErrHandlerExists, got %v", err)
	}

	if err := b.Dispatch(t.Context(), gCmd{ID: "x"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(seen) != 1 || seen[0] != "x" {
		t.Fatalf("seen=%v", seen)
	}

	if err := servicebus.BindQuery[gQry, gRes](b, gQryHandler{}); err != nil {
		t.Fatalf("bind query: %v", err)
	}

	if err := servicebus.BindQuery[gQry, gRes](b, gQryHandler{}); !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("want ErrHandlerExists, got %v", err)
	}

	r, err := servicebus.Ask[gQry, gRes](t.Context(), b, gQry{K: "k"})
	if err != nil || r.V != "k" {
		t.Fatalf("ask: %v r=%+v", err, r)
	}

	raw, err := b.Ask(t.Context(), gQry{K: "raw"})
	if err != nil || raw.(gRes).V != "raw" {
		t.Fatalf("untyped ask: %v r=%+v", err, raw)
	}
}

func Test_NotFoundAndMismatch(t *testing.T) {
	b := servicebus.New(nil)

	if err := b.Dispatch(t.Context(), badCmd{X: 1}); !errors.Is(err, berr.ErrHandlerNotFound) {
		t.Fatalf("want ErrHandlerNotFound, got %v", err)
	}

	if _, err := servicebus.Ask[gQry, gRes](t.Context(), b, gQry{}); !errors.Is(err, berr.ErrHandlerNotFound) {
		t.Fatalf("want ErrHandlerNotFound, got %v", err)
	}

	_ = servicebus.BindQuery[gQry, int](b, intQryHandler{})

	if _, err := servicebus.Ask[gQry, gRes](t.Context(), b, gQry{}); !errors.Is(err, berr.ErrHandlerTypeMismatch) {
		t.Fatalf("want ErrHandlerTypeMismatch, got %v", err)
	}
}

func Test_HandlerErrorIsReturnedUnchanged(t *testing.T) {
	b := servicebus.New(nil)

	var seen []string

	_ = servicebus.BindCommand[gCmd](b, gCmdHandler{seen: &seen, err: berr.ErrRoomUnavailable})

	if err := b.Dispatch(t.Context(), gCmd{ID: "1"}); !errors.Is(err, berr.ErrRoomUnavailable) {
		t.Fatalf("want ErrRoomUnavailable, got %v", err)
	}
}

func Test_CommandMiddleware_RunsInRegistrationOrder(t *testing.T) {
	calls := []string{}
	mw := func(name string) servicebus.CommandMiddleware {
		return func(next func(ctx context.Context, cmd any) error) func(ctx context.Context, cmd any) error {
			return func(ctx context.Context, cmd any) error {
				calls = append(calls, name+"-before")
				err := next(ctx, cmd)

				calls = append(calls, name+"-after")

				return err
			}
		}
	}

	b := servicebus.New(nil, servicebus.WithCommandMiddleware(mw("mw1"), mw("mw2")), servicebus.WithCommandMiddleware(mw("mw3")))

	var seen []string

	_ = servicebus.BindCommand[gCmd](b, gCmdHandler{seen: &seen})

	if err := b.Dispatch(t.Context(), gCmd{ID: "1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := []string{"mw1-before", "mw2-before", "mw3-before", "mw3-after", "mw2-after", "mw1-after"}
	if len(calls) != len(want) {
		t.Fatalf("calls=%v want=%v", calls, want)
	}

	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("order mismatch at %d: %s != %s", i, calls[i], want[i])
		}
	}
}

type deadlineHandler struct{ left *time.Duration }

func (h deadlineHandler) Handle(ctx context.Context, _ gCmd) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return errors.New("no deadline")
	}

	*h.left = time.Until(deadline)

	return nil
}

func Test_TimeoutMiddleware_BoundsCommand(t *testing.T) {
	b := servicebus.New(nil, servicebus.WithCommandMiddleware(servicebus.TimeoutMiddleware(time.Minute)))

	var left time.Duration

	_ = servicebus.BindCommand[gCmd](b, deadlineHandler{left: &left})

	if err := b.Dispatch(t.Context(), gCmd{ID: "1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if left <= 0 || left > time.Minute {
		t.Fatalf("deadline in %s, want within a minute", left)
	}
}

func Test_CommandLogging(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b := servicebus.New(logger, servicebus.WithCommandLogging())

	var seen []string

	_ = servicebus.BindCommand[gCmd](b, gCmdHandler{seen: &seen, err: errors.New("boom")})

	_ = b.Dispatch(t.Context(), gCmd{ID: "1"})

	out := buf.String()
	if !strings.Contains(out, "command failed") || !strings.Contains(out, "servicebus_test.gCmd") || !strings.Contains(out, "boom") {
		t.Fatalf("unexpected log output: %s", out)
	}
}
