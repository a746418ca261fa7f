package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/meridianrx/fulfillment/internal/domain"
	"github.com/meridianrx/fulfillment/internal/lane"
	"github.com/meridianrx/fulfillment/internal/projection"
	"github.com/meridianrx/fulfillment/internal/registry"
	"github.com/meridianrx/fulfillment/internal/replay"
	"github.com/meridianrx/fulfillment/internal/store"
)

type fakeCoordinator struct {
	started []string
	err     error
}

func (f *fakeCoordinator) Start(_ context.Context, orderUUID string, _ map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, orderUUID)
	return nil
}

type fakeDepths struct{}

func (fakeDepths) Depth(context.Context, string) (int64, error) { return 3, nil }

func setupAPI(t *testing.T) (http.Handler, *store.MemoryStore, *fakeCoordinator) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	mem := store.NewMemory()
	reg, err := registry.Default()
	if err != nil {
		t.Fatal(err)
	}
	bus := projection.NewBus()
	orderStatus := projection.NewOrderStatus(mem, logger)
	bus.Subscribe(orderStatus.EventTypes(), orderStatus)

	coordinator := &fakeCoordinator{}
	router := NewRouter(Deps{
		Events:      mem,
		Replay:      NewReplayHandler(replay.NewEngine(mem, reg, bus, logger)),
		Coordinator: coordinator,
		Sagas:       mem,
		Status:      mem,
		Queue:       fakeDepths{},
	})
	return router, mem, coordinator
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" {
		t.Errorf("Status: got %q, want %q", resp.Status, "healthy")
	}
}

func TestCreateOrder(t *testing.T) {
	router, _, coordinator := setupAPI(t)

	body := `{"order_uuid":"order-1","order":{"shipping_address":"1 Main St"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202, body %s", rec.Code, rec.Body.String())
	}
	if len(coordinator.started) != 1 || coordinator.started[0] != "order-1" {
		t.Errorf("coordinator starts: got %v, want [order-1]", coordinator.started)
	}
}

func TestCreateOrder_MissingOrderBody(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders/", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestOrderStatus_NotFound(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/order-x/status", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

func TestListEvents_CursorPaging(t *testing.T) {
	router, mem, _ := setupAPI(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := mem.AppendEvent(ctx, domain.StoredEvent{
			AggregateUUID: "order-1",
			AggregateType: "order",
			EventType:     domain.TypeOrderCreated,
			EventData:     map[string]any{},
		}); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events?after_id=1&limit=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Events     []domain.StoredEvent `json:"events"`
		NextCursor int64                `json:"next_cursor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(resp.Events))
	}
	if resp.Events[0].ID != 2 || resp.Events[1].ID != 3 {
		t.Errorf("ids: got %d,%d, want 2,3", resp.Events[0].ID, resp.Events[1].ID)
	}
	if resp.NextCursor != 3 {
		t.Errorf("next_cursor: got %d, want 3", resp.NextCursor)
	}
}

func TestReplayEndpoint_DryRun(t *testing.T) {
	router, mem, _ := setupAPI(t)
	ctx := context.Background()

	if _, err := mem.AppendEvent(ctx, domain.StoredEvent{
		AggregateUUID: "order-1",
		AggregateType: "order",
		EventType:     domain.TypeOrderCreated,
		EventData:     map[string]any{},
	}); err != nil {
		t.Fatal(err)
	}

	body := `{"projection":"order_status","dry_run":true}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/replay", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result struct {
			EventsProcessed  int `json:"events_processed"`
			EventsDispatched int `json:"events_dispatched"`
		} `json:"result"`
		Progress []string `json:"progress"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result.EventsProcessed != 1 {
		t.Errorf("events_processed: got %d, want 1", resp.Result.EventsProcessed)
	}
	if resp.Result.EventsDispatched != 0 {
		t.Errorf("events_dispatched: got %d, want 0 in dry run", resp.Result.EventsDispatched)
	}
	if len(resp.Progress) != 1 || !strings.HasPrefix(resp.Progress[0], "would dispatch") {
		t.Errorf("progress: got %v, want one would-dispatch line", resp.Progress)
	}
}

func TestReplayEndpoint_UnknownProjection(t *testing.T) {
	router, _, _ := setupAPI(t)

	body := `{"projection":"no_such_projection"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/replay", strings.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestQueueDepths(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queues", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var depths map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &depths); err != nil {
		t.Fatal(err)
	}
	if depths[lane.Fulfillment] != 3 || depths[lane.Renewal] != 3 {
		t.Errorf("depths: got %v, want 3 for both lanes", depths)
	}
}
