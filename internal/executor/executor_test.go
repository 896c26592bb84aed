package executor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"OpenMCP-Intent/internal/catalog"
	apperrors "OpenMCP-Intent/internal/errors"
	"OpenMCP-Intent/internal/flow"
	"OpenMCP-Intent/internal/governance"
	"OpenMCP-Intent/internal/session"
)

type recordingHolder struct {
	held []flow.Step
}

func (h *recordingHolder) Hold(_ context.Context, _ session.Session, step flow.Step, _ governance.Decision) (string, error) {
	h.held = append(h.held, step)
	return "ticket-1", nil
}

type countingObserver struct {
	statuses []string
}

func (o *countingObserver) ObserveStep(endpoint, status string) {
	o.statuses = append(o.statuses, endpoint+":"+status)
}

func testSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.New().Snapshot(context.Background())
	if err != nil {
		t.Fatalf("构建目录失败: %v", err)
	}
	return snap
}

func granted(scopes ...string) session.Session {
	return session.Session{
		Wallet:    "0xabc",
		Roles:     []string{"user"},
		Grants:    scopes,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestValidateSchemaRoundTrip(t *testing.T) {
	schema := catalog.Schema{
		"title":  catalog.TypeString,
		"amount": catalog.TypeNumber,
		"tags":   "string[]",
		"flag":   catalog.TypeBoolean,
		"meta":   catalog.TypeObject,
	}
	valid := map[string]any{
		"title":  "hello",
		"amount": "42",
		"tags":   []any{"a", "b"},
		"flag":   true,
		"meta":   map[string]any{"k": 1},
		"extra":  12,
	}
	if invalid := Validate(schema, valid); len(invalid) != 0 {
		t.Fatalf("expected no invalid args, got %v", invalid)
	}
	if invalid := Validate(schema, map[string]any{"tags": []string{"x"}, "amount": 3}); len(invalid) != 0 {
		t.Fatalf("typed slices and ints are valid: %v", invalid)
	}

	bad := map[string]any{
		"title":  12,
		"amount": "forty-two",
		"tags":   []any{"a", 3},
		"flag":   "maybe",
	}
	want := []string{"amount", "flag", "tags", "title"}
	if invalid := Validate(schema, bad); !reflect.DeepEqual(invalid, want) {
		t.Fatalf("expected every invalid arg %v, got %v", want, invalid)
	}
}

func TestValidateNumbers(t *testing.T) {
	schema := catalog.Schema{"amount": catalog.TypeNumber}
	for _, v := range []any{json.Number("12.5"), "7", int64(3), uint(2)} {
		if invalid := Validate(schema, map[string]any{"amount": v}); len(invalid) != 0 {
			t.Fatalf("%v (%T) should be a number", v, v)
		}
	}
	for _, v := range []any{"NaN", "Inf", "+Infinity", math.NaN(), math.Inf(-1), json.Number("1e400")} {
		if invalid := Validate(schema, map[string]any{"amount": v}); !reflect.DeepEqual(invalid, []string{"amount"}) {
			t.Fatalf("%v (%T) must be rejected, got %v", v, v, invalid)
		}
	}
}

func TestConsentDeniedBeforeAnyHandler(t *testing.T) {
	var calls atomic.Int32
	tables := Tables{Storage: map[string]StorageHandler{
		"messages.send": func(context.Context, Call) (Result, error) {
			calls.Add(1)
			return Result{Message: "sent"}, nil
		},
	}}
	e := New(tables, governance.NewGate(governance.Config{}))
	_, err := e.Execute(context.Background(), granted("profile"), flow.Step{Endpoint: "messages.send", Args: map[string]any{"recipient": "alice"}}, testSnapshot(t))
	var consent *apperrors.ConsentError
	if !errors.As(err, &consent) || consent.Missing[0] != "messages" {
		t.Fatalf("expected consent error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("handler must not run on denied step")
	}
}

func TestValidationErrorListsAllArgs(t *testing.T) {
	e := New(Tables{}, governance.NewGate(governance.Config{}))
	_, err := e.Execute(context.Background(), granted("payments", "wallet"), flow.Step{
		Endpoint: "payments.send",
		Args:     map[string]any{"recipient": 5, "amount": "lots", "currency": "ETH"},
	}, testSnapshot(t))
	var validation *apperrors.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !reflect.DeepEqual(validation.Invalid, []string{"amount", "recipient"}) {
		t.Fatalf("unexpected invalid list: %v", validation.Invalid)
	}
}

func TestRoutingOrderAndNotImplemented(t *testing.T) {
	tables := Tables{
		Direct: map[string]DirectHandler{
			"notes.list": func(context.Context, Call) (Result, error) { return Result{Message: "direct"}, nil },
		},
		Storage: map[string]StorageHandler{
			"notes.list": func(context.Context, Call) (Result, error) { return Result{Message: "storage"}, nil },
		},
		AuthRequired: map[string]AuthRequiredHandler{
			"notes.list": func(context.Context, Call) (Authorization, error) { return Authorization{Detail: "auth"}, nil },
			"payments.send": func(context.Context, Call) (Authorization, error) {
				return Authorization{Kind: "wallet_signature", Detail: "wallet signature"}, nil
			},
		},
	}
	e := New(tables, nil)
	snap := testSnapshot(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, granted("notes"), flow.Step{Endpoint: "notes.list"}, snap)
	if err != nil || res.Message != "direct" || res.Status != StatusOK {
		t.Fatalf("direct table must win: %+v %v", res, err)
	}

	res, err = e.Execute(ctx, granted("payments", "wallet"), flow.Step{Endpoint: "payments.send"}, snap)
	if err != nil || res.Status != StatusAuthorizationRequired || res.Message != "payments.send requires wallet signature" {
		t.Fatalf("unexpected auth result: %+v %v", res, err)
	}

	res, err = e.Execute(ctx, granted("news"), flow.Step{Endpoint: "news.headlines.get"}, snap)
	if err != nil || res.Status != StatusNotImplemented {
		t.Fatalf("expected not_implemented without error: %+v %v", res, err)
	}

	if e.Tiers()["notes.list"] != TierDirect || e.Tiers()["payments.send"] != TierAuthRequired {
		t.Fatalf("unexpected tiers: %v", e.Tiers())
	}
}

func TestHandlerFailureBecomesExecutionError(t *testing.T) {
	tables := Tables{Direct: map[string]DirectHandler{
		"system.time.now": func(context.Context, Call) (Result, error) { return Result{}, errors.New("clock broke") },
		"system.session.get": func(context.Context, Call) (Result, error) {
			return Result{}, apperrors.New(apperrors.CodeTimeout, "slow", apperrors.WithRetryable(true))
		},
	}}
	e := New(tables, nil)
	snap := testSnapshot(t)

	_, err := e.Execute(context.Background(), granted("profile"), flow.Step{Endpoint: "system.time.now"}, snap)
	var execErr *apperrors.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if execErr.Endpoint != "system.time.now" || execErr.Message != "clock broke" || execErr.Retryable {
		t.Fatalf("unexpected execution error: %+v", execErr)
	}
	if apperrors.CodeOf(err) != apperrors.CodeExecutionFailed {
		t.Fatalf("unexpected code %s", apperrors.CodeOf(err))
	}

	_, err = e.Execute(context.Background(), granted("profile"), flow.Step{Endpoint: "system.session.get"}, snap)
	if !errors.As(err, &execErr) || !execErr.Retryable {
		t.Fatalf("explicitly retryable handler errors stay retryable: %+v", err)
	}
}

func TestExecuteFlowRunsSequentiallyWithoutRollback(t *testing.T) {
	var order []string
	tables := Tables{
		Direct: map[string]DirectHandler{
			"system.time.now": func(context.Context, Call) (Result, error) {
				order = append(order, "time")
				return Result{Message: "noon"}, nil
			},
		},
		Storage: map[string]StorageHandler{
			"notes.create": func(context.Context, Call) (Result, error) {
				order = append(order, "note")
				return Result{}, errors.New("disk full")
			},
			"notes.list": func(context.Context, Call) (Result, error) {
				order = append(order, "list")
				return Result{Message: "0 notes"}, nil
			},
		},
	}
	observer := &countingObserver{}
	e := New(tables, governance.NewGate(governance.Config{}), WithObserver(observer))
	steps := []flow.Step{
		{Endpoint: "system.time.now"},
		{Endpoint: "notes.create", Args: map[string]any{"title": "t"}},
		{Endpoint: "messages.list"},
		{Endpoint: "notes.list"},
	}
	outcomes := e.ExecuteFlow(context.Background(), granted("profile", "notes"), steps, testSnapshot(t))
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}
	if !reflect.DeepEqual(order, []string{"time", "note", "list"}) {
		t.Fatalf("unexpected execution order: %v", order)
	}
	if outcomes[0].Result == nil || outcomes[1].Err == nil || outcomes[3].Result == nil {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	var consent *apperrors.ConsentError
	if !errors.As(outcomes[2].Err, &consent) {
		t.Fatalf("expected consent error for messages.list, got %v", outcomes[2].Err)
	}
	if len(observer.statuses) != 4 {
		t.Fatalf("expected one observation per step, got %v", observer.statuses)
	}
}

func TestExecuteFlowHoldsReviewedSteps(t *testing.T) {
	var paid atomic.Int32
	tables := Tables{AuthRequired: map[string]AuthRequiredHandler{
		"payments.send": func(context.Context, Call) (Authorization, error) {
			paid.Add(1)
			return Authorization{Detail: "wallet signature"}, nil
		},
	}}
	holder := &recordingHolder{}
	gate := governance.NewGate(governance.Config{PaymentThreshold: 100})
	e := New(tables, gate, WithHolder(holder))
	outcomes := e.ExecuteFlow(context.Background(), granted("payments", "wallet"), []flow.Step{
		{Endpoint: "payments.send", Args: map[string]any{"recipient": "bob", "amount": 150.0}},
		{Endpoint: "payments.send", Args: map[string]any{"recipient": "bob", "amount": 15.0}},
	}, testSnapshot(t))

	if outcomes[0].Result == nil || outcomes[0].Result.Status != StatusPendingReview || outcomes[0].Result.TicketID != "ticket-1" {
		t.Fatalf("expected held step: %+v", outcomes[0])
	}
	if outcomes[0].Decision == nil || outcomes[0].Decision.Outcome != governance.Review {
		t.Fatalf("expected review decision: %+v", outcomes[0].Decision)
	}
	if len(holder.held) != 1 || paid.Load() != 1 {
		t.Fatalf("only the small payment may reach its handler: held=%d paid=%d", len(holder.held), paid.Load())
	}
}
