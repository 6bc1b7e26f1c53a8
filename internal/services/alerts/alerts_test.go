package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-pulse/internal/cache"
	"market-pulse/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func record(high, low, close, volume float64) models.MergedRecord {
	return models.MergedRecord{Candle: models.Candle{
		OpenPrice:  models.Float(close),
		HighPrice:  models.Float(high),
		LowPrice:   models.Float(low),
		ClosePrice: models.Float(close),
		Volume:     models.Float(volume),
	}}
}

type memoryStore struct {
	alerts    map[string]models.Alert
	triggered map[string]time.Time
	listErr   error
}

func newMemoryStore(alerts ...models.Alert) *memoryStore {
	s := &memoryStore{alerts: map[string]models.Alert{}, triggered: map[string]time.Time{}}
	for _, a := range alerts {
		s.alerts[a.ID] = a
	}
	return s
}

func (m *memoryStore) Create(ctx context.Context, alert *models.Alert) error {
	m.alerts[alert.ID] = *alert
	return nil
}

func (m *memoryStore) Get(ctx context.Context, id string) (*models.Alert, error) {
	a, ok := m.alerts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &a, nil
}

func (m *memoryStore) List(ctx context.Context, activeOnly bool) ([]models.Alert, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []models.Alert{}
	for _, a := range m.alerts {
		if !activeOnly || a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, id string) error {
	delete(m.alerts, id)
	return nil
}

func (m *memoryStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	a := m.alerts[id]
	a.Active = false
	a.TriggeredAt = &at
	m.alerts[id] = a
	m.triggered[id] = at
	return nil
}

type fakeLoader struct {
	structures map[string]*models.FinalStructure
	loads      map[string]int
}

func (f *fakeLoader) Load(ctx context.Context, tf string) (*models.FinalStructure, error) {
	if f.loads == nil {
		f.loads = map[string]int{}
	}
	f.loads[tf]++
	fs, ok := f.structures[tf]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return fs, nil
}

type recordingNotifier struct {
	events []models.AlertEvent
	err    error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(ctx context.Context, event models.AlertEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func newTestService(store Store, loader StructureLoader, notifier Notifier) *Service {
	s := NewService(store, loader, notifier, 3, quietLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestVWAP(t *testing.T) {
	records := []models.MergedRecord{
		record(1000, 1000, 1000, 50), // outside the window
		record(12, 9, 9, 1),          // typical 10
		record(21, 19, 20, 3),        // typical 20
	}

	vwap, err := VWAP(records, 2)
	require.NoError(t, err)
	assert.Equal(t, "17.5", vwap.String())

	all, err := VWAP(records, 10)
	require.NoError(t, err)
	assert.True(t, all.GreaterThan(vwap))
}

func TestVWAPErrors(t *testing.T) {
	_, err := VWAP([]models.MergedRecord{record(1, 1, 1, 0)}, 5)
	assert.ErrorIs(t, err, ErrZeroVolume)

	_, err = VWAP(nil, 5)
	assert.ErrorIs(t, err, ErrZeroVolume)

	_, err = VWAP([]models.MergedRecord{record(1, 1, 1, 1)}, 0)
	assert.Error(t, err)
}

func TestCreateValidates(t *testing.T) {
	s := newTestService(newMemoryStore(), &fakeLoader{}, nil)

	bad := []models.Alert{
		{Symbol: "", Timeframe: "1h", Condition: models.ConditionPriceAbove, Threshold: 1},
		{Symbol: "BTC/USDT:USDT", Timeframe: "2h", Condition: models.ConditionPriceAbove, Threshold: 1},
		{Symbol: "BTC/USDT:USDT", Timeframe: "1h", Condition: "sideways", Threshold: 1},
		{Symbol: "BTC/USDT:USDT", Timeframe: "1h", Condition: models.ConditionPriceBelow},
		{Symbol: "BTC/USDT:USDT", Timeframe: "1h", Condition: models.ConditionVWAPCrossUp, VWAPWindow: -1},
	}
	for _, a := range bad {
		_, err := s.Create(context.Background(), a)
		assert.ErrorIs(t, err, ErrInvalidAlert, "%+v", a)
	}
}

func TestCreate(t *testing.T) {
	store := newMemoryStore()
	s := newTestService(store, &fakeLoader{}, nil)

	alert, err := s.Create(context.Background(), models.Alert{
		Symbol:    " BTC/USDT:USDT ",
		Timeframe: "4h",
		Condition: models.ConditionVWAPCrossDown,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, "BTC/USDT:USDT", alert.Symbol)
	assert.Equal(t, 3, alert.VWAPWindow)
	assert.True(t, alert.Active)
	assert.Equal(t, fixedNow, alert.CreatedAt)
	assert.Contains(t, store.alerts, alert.ID)
}

func TestEvaluate(t *testing.T) {
	s := newTestService(newMemoryStore(), &fakeLoader{}, nil)
	flat := []models.MergedRecord{record(10, 10, 10, 1), record(10, 10, 10, 1), record(10, 10, 10, 1)}
	up := append(append([]models.MergedRecord(nil), flat...), record(13, 12, 13, 1))
	down := append(append([]models.MergedRecord(nil), flat...), record(8, 7, 7, 1))

	tests := []struct {
		name    string
		alert   models.Alert
		records []models.MergedRecord
		want    bool
	}{
		{"above hit", models.Alert{Condition: models.ConditionPriceAbove, Threshold: 12}, up, true},
		{"above miss", models.Alert{Condition: models.ConditionPriceAbove, Threshold: 14}, up, false},
		{"below hit", models.Alert{Condition: models.ConditionPriceBelow, Threshold: 8}, down, true},
		{"cross up", models.Alert{Condition: models.ConditionVWAPCrossUp, VWAPWindow: 4}, up, true},
		{"no cross up when falling", models.Alert{Condition: models.ConditionVWAPCrossUp, VWAPWindow: 4}, down, false},
		{"cross down", models.Alert{Condition: models.ConditionVWAPCrossDown, VWAPWindow: 4}, down, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, hit, err := s.Evaluate(tt.alert, tt.records)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hit)
		})
	}

	_, _, err := s.Evaluate(models.Alert{Condition: models.ConditionVWAPCrossUp}, up[:1])
	assert.Error(t, err)
	_, _, err = s.Evaluate(models.Alert{Condition: models.ConditionPriceAbove}, nil)
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	store := newMemoryStore(
		models.Alert{ID: "a1", Symbol: "BTC/USDT:USDT", Timeframe: "1h", Condition: models.ConditionPriceAbove, Threshold: 100, Active: true},
		models.Alert{ID: "a2", Symbol: "BTC/USDT:USDT", Timeframe: "1h", Condition: models.ConditionPriceBelow, Threshold: 100, Active: true},
		models.Alert{ID: "a3", Symbol: "ETH/USDT:USDT", Timeframe: "1h", Condition: models.ConditionPriceAbove, Threshold: 1, Active: true},
		models.Alert{ID: "a4", Symbol: "BTC/USDT:USDT", Timeframe: "1d", Condition: models.ConditionPriceAbove, Threshold: 1, Active: true},
		models.Alert{ID: "a5", Symbol: "BTC/USDT:USDT", Timeframe: "1h", Condition: models.ConditionPriceAbove, Threshold: 1, Active: false},
	)
	loader := &fakeLoader{structures: map[string]*models.FinalStructure{
		"1h": {Timeframe: "1h", Data: []models.InstrumentSeries{
			{Symbol: "BTC/USDT:USDT", Data: []models.MergedRecord{record(120, 100, 110, 5)}},
		}},
	}}
	notifier := &recordingNotifier{err: errors.New("telegram down")}
	s := newTestService(store, loader, notifier)

	fired, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "a1", notifier.events[0].AlertID)
	assert.Equal(t, 110.0, notifier.events[0].Price)
	assert.Equal(t, 100.0, notifier.events[0].Reference)

	assert.Equal(t, fixedNow, store.triggered["a1"], "notification failure still marks the alert")
	assert.False(t, store.alerts["a1"].Active)
	assert.True(t, store.alerts["a2"].Active)
	assert.Equal(t, 1, loader.loads["1h"])
	assert.Equal(t, 1, loader.loads["1d"])

	// fired alerts are inactive on the next pass
	fired, err = s.Check(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestCheckListError(t *testing.T) {
	store := newMemoryStore()
	store.listErr = errors.New("postgres down")
	_, err := newTestService(store, &fakeLoader{}, nil).Check(context.Background())
	assert.Error(t, err)
}

func TestTelegramNotifier(t *testing.T) {
	var got telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier(srv.URL, "TOKEN", "42", quietLogger())
	err := n.Notify(context.Background(), models.AlertEvent{
		AlertID:   "a1",
		Symbol:    "BTC/USDT:USDT",
		Timeframe: "1h",
		Condition: models.ConditionPriceAbove,
		Price:     110.5,
		Reference: 100,
		Note:      "breakout",
		FiredAt:   fixedNow,
	})
	require.NoError(t, err)

	assert.Equal(t, "42", got.ChatID)
	assert.Contains(t, got.Text, "BTC/USDT:USDT 1h: price above threshold")
	assert.Contains(t, got.Text, "price 110.5, reference 100")
	assert.Contains(t, got.Text, "breakout")
}

func TestTelegramNotifierAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegramNotifier(srv.URL, "TOKEN", "42", quietLogger()).Notify(context.Background(), models.AlertEvent{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

type fakeAlertPublisher struct{ events []models.AlertEvent }

func (f *fakeAlertPublisher) PublishAlert(ctx context.Context, event models.AlertEvent) error {
	f.events = append(f.events, event)
	return nil
}

func TestMultiNotifier(t *testing.T) {
	pub := &fakeAlertPublisher{}
	failing := &recordingNotifier{err: errors.New("boom")}
	multi := MultiNotifier{NewPubSubNotifier(pub), failing}

	err := multi.Notify(context.Background(), models.AlertEvent{AlertID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording: boom")
	assert.Len(t, pub.events, 1)
	assert.Len(t, failing.events, 1)
	assert.Equal(t, "pubsub,recording", multi.Name())

	assert.NoError(t, MultiNotifier{NewPubSubNotifier(pub)}.Notify(context.Background(), models.AlertEvent{}))
}
