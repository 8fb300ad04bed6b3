package bothandler

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/mock"

	"github.com/placefinder/placefinder/internal/database"
	"github.com/placefinder/placefinder/internal/geocoding"
)

// MockGeocoder is a mock implementation of control.Geocoder
type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) Geocode(ctx context.Context, query string, near geocoding.CenterProvider) ([]geocoding.Result, error) {
	args := m.Called(ctx, query, near)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]geocoding.Result), args.Error(1)
}

func (m *MockGeocoder) Reverse(ctx context.Context, location geocoding.LatLng, scale float64, near geocoding.CenterProvider) ([]geocoding.Result, error) {
	args := m.Called(ctx, location, scale, near)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]geocoding.Result), args.Error(1)
}

// MockHistoryService is a mock implementation of HistoryServiceInterface
type MockHistoryService struct {
	mock.Mock
}

func (m *MockHistoryService) Record(ctx context.Context, s database.Selection) (database.Selection, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(database.Selection), args.Error(1)
}

func (m *MockHistoryService) Recent(ctx context.Context, chatID int64, limit int) ([]database.Selection, error) {
	args := m.Called(ctx, chatID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.Selection), args.Error(1)
}

func (m *MockHistoryService) Clear(ctx context.Context, chatID int64) (int64, error) {
	args := m.Called(ctx, chatID)
	return args.Get(0).(int64), args.Error(1)
}

// countingMetrics counts selections and sessions.
type countingMetrics struct {
	mu         sync.Mutex
	selections map[string]int
	started    int
	ended      int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{selections: map[string]int{}}
}

func (c *countingMetrics) RecordSelection(_ context.Context, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selections[source]++
}

func (c *countingMetrics) SessionStarted(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
}

func (c *countingMetrics) SessionEnded(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended++
}

// call is one Bot API request seen by fakeMessenger.
type call struct {
	method string
	params any
}

// fakeMessenger records Bot API calls and hands out increasing message IDs.
type fakeMessenger struct {
	mu     sync.Mutex
	calls  []call
	nextID int
	err    error
}

func (f *fakeMessenger) record(method string, params any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, params: params})
	f.nextID++
	return f.nextID, f.err
}

func (f *fakeMessenger) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	id, err := f.record("sendMessage", params)
	if err != nil {
		return nil, err
	}
	return &models.Message{ID: id}, nil
}

func (f *fakeMessenger) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	_, err := f.record("editMessageText", params)
	if err != nil {
		return nil, err
	}
	return &models.Message{ID: params.MessageID}, nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, params *bot.DeleteMessageParams) (bool, error) {
	_, err := f.record("deleteMessage", params)
	return err == nil, err
}

func (f *fakeMessenger) SendChatAction(_ context.Context, params *bot.SendChatActionParams) (bool, error) {
	_, err := f.record("sendChatAction", params)
	return err == nil, err
}

func (f *fakeMessenger) SendVenue(_ context.Context, params *bot.SendVenueParams) (*models.Message, error) {
	id, err := f.record("sendVenue", params)
	if err != nil {
		return nil, err
	}
	return &models.Message{ID: id}, nil
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	_, err := f.record("answerCallbackQuery", params)
	return err == nil, err
}

// methods returns the called method names in order.
func (f *fakeMessenger) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

// last returns the params of the latest call to method.
func (f *fakeMessenger) last(method string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i].params
		}
	}
	return nil
}

func (f *fakeMessenger) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func brandenburgResults() []geocoding.Result {
	return []geocoding.Result{
		{
			Name:   "Brandenburg Gate, Pariser Platz, 10117 Berlin, Germany",
			Center: geocoding.LatLng{Lat: 52.5162746, Lng: 13.3777041},
			Bounds: &geocoding.Bounds{
				SouthWest: geocoding.LatLng{Lat: 52.5161, Lng: 13.3775},
				NorthEast: geocoding.LatLng{Lat: 52.5164, Lng: 13.3779},
			},
		},
		{
			Name:   "Brandenburger Tor, Potsdam, Germany",
			Center: geocoding.LatLng{Lat: 52.3990, Lng: 13.0470},
		},
		{
			Name:   "Brandenburg Gate, Brandenburg an der Havel, Germany",
			Center: geocoding.LatLng{Lat: 52.4125, Lng: 12.5316},
		},
	}
}

func textUpdate(chatID int64, text string) *models.Update {
	return &models.Update{
		ID: 1,
		Message: &models.Message{
			ID:   100,
			Chat: models.Chat{ID: chatID},
			From: &models.User{ID: chatID},
			Text: text,
		},
	}
}

func callbackUpdate(chatID int64, data string) *models.Update {
	return &models.Update{
		ID: 2,
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb",
			From: models.User{ID: chatID},
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{ID: 1, Chat: models.Chat{ID: chatID}},
			},
		},
	}
}

func locationUpdate(chatID int64, lat, lng float64) *models.Update {
	return &models.Update{
		ID: 3,
		Message: &models.Message{
			ID:       101,
			Chat:     models.Chat{ID: chatID},
			Location: &models.Location{Latitude: lat, Longitude: lng},
		},
	}
}
