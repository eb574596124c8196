package bot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astro-bot/internal/ledger"
	"astro-bot/internal/models"
	"astro-bot/internal/queue"
	"astro-bot/pkg/logger"
)

const testUser int64 = 777

type apiCall struct {
	method string
	form   url.Values
}

// fakeTelegram answers every Bot API method with a canned success.
type fakeTelegram struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeTelegram) byMethod(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func newFakeAPI(t *testing.T) (*tgbotapi.BotAPI, *fakeTelegram) {
	t.Helper()

	fake := &fakeTelegram{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		method := path.Base(r.URL.Path)

		fake.mu.Lock()
		fake.calls = append(fake.calls, apiCall{method: method, form: r.PostForm})
		fake.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if method == "getMe" {
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Astro","username":"astro_test_bot"}}`)
			return
		}
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":1,"date":%d,"chat":{"id":%d,"type":"private"}}}`, time.Now().Unix(), testUser)
	}))
	t.Cleanup(srv.Close)

	api, err := NewAPI("TEST", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	return api, fake
}

type fakeCheckout struct {
	calls []models.ProductKind
	err   error
}

func (c *fakeCheckout) CreateCheckoutSession(ctx context.Context, userID int64, kind models.ProductKind, successURL, cancelURL string) (string, error) {
	c.calls = append(c.calls, kind)
	if c.err != nil {
		return "", c.err
	}
	return "https://checkout.stripe.com/c/pay/cs_test_" + string(kind), nil
}

type fakeQueue struct {
	jobs []queue.Job
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job queue.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type botEnv struct {
	bot      *TelegramBot
	tg       *fakeTelegram
	ledger   *ledger.Memory
	checkout *fakeCheckout
	queue    *fakeQueue
}

func newBotEnv(t *testing.T) *botEnv {
	t.Helper()

	api, tg := newFakeAPI(t)
	env := &botEnv{
		tg:       tg,
		ledger:   ledger.NewMemory(),
		checkout: &fakeCheckout{},
		queue:    &fakeQueue{},
	}
	env.bot = NewTelegramBot(api, env.ledger, env.checkout, env.queue, logger.NewNop())
	return env
}

func (e *botEnv) withProfile(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.ledger.CreateUser(ctx, testUser, "Анна")
	require.NoError(t, err)
	require.NoError(t, e.ledger.UpdateProfile(ctx, testUser, models.Profile{
		BirthDate:    time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC),
		BirthTime:    "14:30",
		BirthCountry: "Россия",
		BirthCity:    "Казань",
	}))
}

func message(text string) *tgbotapi.Message {
	m := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: testUser, FirstName: "Анна"},
		Chat:      &tgbotapi.Chat{ID: testUser, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: utf8.RuneCountInString(cmd)}}
	}
	return m
}

func (e *botEnv) send(text string) {
	e.bot.handleUpdate(context.Background(), tgbotapi.Update{UpdateID: 1, Message: message(text)})
}

func (e *botEnv) press(data string) {
	e.bot.handleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: 2,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb1",
			From:    &tgbotapi.User{ID: testUser},
			Message: message("screen"),
			Data:    data,
		},
	})
}

func (e *botEnv) lastText(t *testing.T) string {
	t.Helper()
	sent := e.tg.byMethod("sendMessage")
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].form.Get("text")
}

func TestBot_StartCollectsAndSavesProfile(t *testing.T) {
	e := newBotEnv(t)

	e.send("/start")
	u, err := e.ledger.GetUser(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, "Анна", u.Name)
	assert.Contains(t, e.lastText(t), "Готова")

	for _, in := range []string{btnReady, "17.05.1990", "14:30", "Россия, Казань"} {
		e.send(in)
	}

	u, err = e.ledger.GetUser(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, u.Profile.Complete())
	assert.Equal(t, "Казань", u.BirthCity)
	assert.Equal(t, msgProfileSaved, e.lastText(t))
}

func TestBot_ProductCommandShowsGetButton(t *testing.T) {
	e := newBotEnv(t)

	e.send("/godovoyputj")

	sent := e.tg.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].form.Get("text"), "Годовой путь")
	assert.Contains(t, sent[0].form.Get("reply_markup"), `"callback_data":"get:solar"`)
}

func TestBot_GetUnpaidIssuesCheckoutLink(t *testing.T) {
	e := newBotEnv(t)
	e.withProfile(t)

	e.press("get:income")

	assert.Equal(t, []models.ProductKind{models.ProductIncome}, e.checkout.calls)
	assert.Empty(t, e.queue.jobs)
	assert.Len(t, e.tg.byMethod("answerCallbackQuery"), 1)

	sent := e.tg.byMethod("sendMessage")
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].form.Get("reply_markup"), "cs_test_income")
	assert.Equal(t, msgAfterPay, sent[1].form.Get("text"))
}

func TestBot_GetPaidEnqueuesRequest(t *testing.T) {
	e := newBotEnv(t)
	e.withProfile(t)
	require.NoError(t, e.ledger.SetPaid(context.Background(), testUser, models.ProductDestiny))

	e.press("get:destiny")

	require.Len(t, e.queue.jobs, 1)
	assert.Equal(t, models.ProductDestiny, e.queue.jobs[0].Product)
	assert.Equal(t, queue.SourceRequest, e.queue.jobs[0].Source)
	assert.Empty(t, e.checkout.calls)
}

func TestBot_GetPaidQueueFull(t *testing.T) {
	e := newBotEnv(t)
	e.withProfile(t)
	require.NoError(t, e.ledger.SetPaid(context.Background(), testUser, models.ProductSolar))
	e.queue.err = queue.ErrQueueFull

	e.press("get:solar")

	assert.Equal(t, msgBusy, e.lastText(t))
}

func TestBot_GetWithoutProfile(t *testing.T) {
	e := newBotEnv(t)

	e.press("get:destiny")

	assert.Empty(t, e.checkout.calls)
	assert.Equal(t, msgNoProfile, e.lastText(t))
}

func TestBot_CompatibilityCollectsPartnerFirst(t *testing.T) {
	e := newBotEnv(t)
	e.withProfile(t)

	e.press("get:compatibility")
	assert.Equal(t, msgAskPartnerName, e.lastText(t))
	assert.Empty(t, e.checkout.calls)

	for _, in := range []string{"Иван", "01.01.1988", "09:05", "Латвия, Рига"} {
		e.send(in)
	}

	u, err := e.ledger.GetUser(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, "Иван", u.Partner.Name)
	assert.True(t, u.Partner.Profile.Complete())
	assert.Equal(t, "Россия", u.BirthCountry, "own profile is untouched")

	e.press("get:compatibility")
	assert.Equal(t, []models.ProductKind{models.ProductCompatibility}, e.checkout.calls)
}

func TestBot_ResumesSessionFromLedger(t *testing.T) {
	e := newBotEnv(t)
	e.withProfile(t)

	e.send("привет")

	assert.Equal(t, msgUseMenu, e.lastText(t))
}

func TestBot_MenuButtonOpensProduct(t *testing.T) {
	e := newBotEnv(t)

	e.send("💸 Карьера и доход")

	assert.Contains(t, e.lastText(t), "Доход и карьера")
}

func TestSender_SplitsLongText(t *testing.T) {
	api, tg := newFakeAPI(t)
	s := NewSender(api, logger.NewNop())

	text := strings.Repeat("звёзды ", 1000)
	require.NoError(t, s.SendText(context.Background(), testUser, text))

	sent := tg.byMethod("sendMessage")
	require.Len(t, sent, 2)
	var total int
	for _, c := range sent {
		n := utf8.RuneCountInString(c.form.Get("text"))
		assert.LessOrEqual(t, n, maxMessageRunes)
		total += n
	}
	assert.Greater(t, total, maxMessageRunes)
}

func TestSender_SendDocument(t *testing.T) {
	api, tg := newFakeAPI(t)
	s := NewSender(api, logger.NewNop())

	err := s.SendDocument(context.Background(), testUser, "https://cdn.example.com/r.pdf", "Готово!")
	require.NoError(t, err)

	docs := tg.byMethod("sendDocument")
	require.Len(t, docs, 1)
	assert.Equal(t, "https://cdn.example.com/r.pdf", docs[0].form.Get("document"))
	assert.Equal(t, "Готово!", docs[0].form.Get("caption"))
}

func TestSender_CancelledContext(t *testing.T) {
	api, tg := newFakeAPI(t)
	s := NewSender(api, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.SendText(ctx, testUser, "hi"), context.Canceled)
	assert.Empty(t, tg.byMethod("sendMessage"))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	chunks := splitMessage("первый абзац\n\nвторой абзац", 15)
	assert.Equal(t, []string{"первый абзац", "второй абзац"}, chunks)

	chunks = splitMessage(strings.Repeat("я", 25), 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("я", 10), chunks[0])
	assert.Equal(t, strings.Repeat("я", 5), chunks[2])
}

func TestCommands(t *testing.T) {
	cmds := Commands()
	require.Len(t, cmds, 5)
	assert.Equal(t, "menu", cmds[0].Command)
	assert.Equal(t, "prednaznachenie", cmds[1].Command)
	assert.Equal(t, "sovmestimost", cmds[4].Command)
}
