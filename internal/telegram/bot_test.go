package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	chatID int64
	text   string
}

type fakeAPI struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []sent
	sendErr error
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	msg, ok := c.(tgbotapi.MessageConfig)
	if ok {
		f.sent = append(f.sent, sent{chatID: msg.ChatID, text: msg.Text})
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type echoHandler struct {
	mu    sync.Mutex
	texts []string
}

func (h *echoHandler) Handle(ctx context.Context, text string) string {
	h.mu.Lock()
	h.texts = append(h.texts, text)
	h.mu.Unlock()
	return "re: " + text
}

func message(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}}
}

const owner int64 = 42

func TestRunRoutesOwnerMessagesAndRejectsOthers(t *testing.T) {
	api := newFakeAPI()
	bot := newBot(api, owner, nil)
	handler := &echoHandler{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx, handler) }()

	api.updates <- tgbotapi.Update{}
	api.updates <- message(7, "status")
	api.updates <- message(owner, "  status  ")

	require.Eventually(t, func() bool { return len(api.messages()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	msgs := api.messages()
	assert.Equal(t, sent{chatID: owner, text: "Started!"}, msgs[0])
	assert.Contains(t, msgs, sent{chatID: 7, text: "Just private use only."})
	assert.Contains(t, msgs, sent{chatID: owner, text: "re: status"})
	assert.Equal(t, []string{"status"}, handler.texts)

	api.mu.Lock()
	assert.True(t, api.stopped)
	api.mu.Unlock()
}

func TestRunStopsWhenUpdatesClose(t *testing.T) {
	api := newFakeAPI()
	bot := newBot(api, owner, nil)
	close(api.updates)

	assert.NoError(t, bot.Run(context.Background(), &echoHandler{}))
}

func TestRunFailsWhenStartupMessageFails(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = errors.New("unauthorized")
	bot := newBot(api, owner, nil)

	err := bot.Run(context.Background(), &echoHandler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestAlertGoesToOwner(t *testing.T) {
	api := newFakeAPI()
	bot := newBot(api, owner, nil)

	require.NoError(t, bot.Alert(context.Background(), "Task 1 critical: boom"))
	assert.Equal(t, []sent{{chatID: owner, text: "Task 1 critical: boom"}}, api.messages())
}

func TestRunRequiresHandler(t *testing.T) {
	bot := newBot(newFakeAPI(), owner, nil)
	assert.Error(t, bot.Run(context.Background(), nil))
}
