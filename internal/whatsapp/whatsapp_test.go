package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-calling/internal/crm"
	"whatsapp-calling/internal/queue"
)

type enqueued struct {
	task    string
	payload any
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []enqueued
	err   error
}

func (q *fakeQueue) Enqueue(ctx context.Context, task string, payload any) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, enqueued{task, payload})
	return nil
}

type rejections struct{ reasons []string }

func (r *rejections) WebhookRejected(source, reason string) { r.reasons = append(r.reasons, reason) }

func TestFormatPhone(t *testing.T) {
	cases := map[string]string{
		"5551234567":       "+15551234567",
		"15551234567":      "+15551234567",
		"+44 20 7946 0958": "+442079460958",
		"(555) 123-4567":   "+15551234567",
		"":                 "",
	}
	for in, want := range cases {
		if got := FormatPhone(in); got != want {
			t.Fatalf("FormatPhone(%q) = %q, want %q", in, got, want)
		}
	}
	assert.Equal(t, []string{"15551234567", "+15551234567"}, PhoneVariants("15551234567"))
	assert.Equal(t, []string{"+15551234567"}, PhoneVariants("+15551234567"))
}

func TestMessage_Content(t *testing.T) {
	cases := []struct {
		msg  Message
		want string
	}{
		{Message{Type: "text", Text: &TextBody{Body: "hi"}}, "hi"},
		{Message{Type: "image", Image: &Media{Caption: "logo"}}, "[Image] logo"},
		{Message{Type: "image", Image: &Media{}}, "[Image]"},
		{Message{Type: "audio"}, "[Audio Message]"},
		{Message{Type: "video", Video: &Media{Caption: "demo"}}, "[Video] demo"},
		{Message{Type: "document", Document: &Media{Filename: "quote.pdf"}}, "[Document] quote.pdf"},
		{Message{Type: "sticker"}, "[Sticker Message]"},
	}
	for _, tc := range cases {
		if got := tc.msg.Content(); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.msg.Type, got, tc.want)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	sig := Sign("secret", body)
	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("secret", append(body, ' '), sig))
	assert.False(t, VerifySignature("secret", body, strings.TrimPrefix(sig, "sha256=")))
	assert.False(t, VerifySignature("", body, Sign("", body)))
}

func newWebhookRouter(h WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/webhooks/whatsapp", h.Verify)
	r.POST("/webhooks/whatsapp", h.Receive)
	return r
}

func TestWebhook_VerifyHandshake(t *testing.T) {
	rej := &rejections{}
	r := newWebhookRouter(WebhookHandler{VerifyToken: "tok", Observer: rej})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=12345", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, []string{RejectBadVerify}, rej.reasons)
}

func TestWebhook_RejectsTamperedBodyWithoutQueueing(t *testing.T) {
	q := &fakeQueue{}
	rej := &rejections{}
	r := newWebhookRouter(WebhookHandler{AppSecret: "s3cret", Queue: q, Observer: rej})

	body := `{"entry":[]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(`{"entry":[{}]}`))
	req.Header.Set("X-Hub-Signature-256", Sign("s3cret", []byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, q.tasks)
	assert.Equal(t, []string{RejectBadSignature}, rej.reasons)
}

func TestWebhook_QueuesVerifiedDelivery(t *testing.T) {
	q := &fakeQueue{}
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r := newWebhookRouter(WebhookHandler{AppSecret: "s3cret", Queue: q, Now: func() time.Time { return at }})

	body := `{"object":"whatsapp_business_account","entry":[]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", Sign("s3cret", []byte(body)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, queue.TaskProcessWebhook, q.tasks[0].task)
	task := q.tasks[0].payload.(WebhookTask)
	assert.JSONEq(t, body, string(task.Body))
	assert.Equal(t, at, task.ReceivedAt)
}

type procHarness struct {
	store *crm.MemoryStore
	queue *fakeQueue
	proc  *Processor
}

func newProcHarness(t *testing.T, bot bool) procHarness {
	t.Helper()
	store := crm.NewMemoryStore()
	q := &fakeQueue{}
	p := NewProcessor(ProcessorOptions{BusinessNumber: "+10000000000", DefaultLeadOwner: "sales@x", BotEnabled: bot},
		crm.NewLeads(store, nil, nil), NewMemoryDeduper(), q, nil)
	p.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return procHarness{store: store, queue: q, proc: p}
}

func textDelivery(id, from, body string) WebhookPayload {
	return WebhookPayload{Entry: []Entry{{Changes: []Change{{Value: Value{
		Messages: []Message{{ID: id, From: from, Timestamp: "1777626000", Type: "text", Text: &TextBody{Body: body}}},
	}}}}}}
}

func TestProcessor_UnknownNumberCreatesLeadAndQueuesBot(t *testing.T) {
	h := newProcHarness(t, true)
	ctx := context.Background()

	raw, err := json.Marshal(textDelivery("wamid.1", "15551234567", "Hi, what are your prices?"))
	require.NoError(t, err)
	task, err := json.Marshal(WebhookTask{Body: raw})
	require.NoError(t, err)
	require.NoError(t, h.proc.HandleTask(ctx, task))

	lead, err := h.store.FindOne(ctx, crm.KindLead, "mobile_no", "15551234567")
	require.NoError(t, err)
	assert.Equal(t, "WhatsApp Lead 4567", lead.Fields.String("first_name"))
	assert.Equal(t, crm.SourceWhatsApp, lead.Fields.String("source"))
	assert.Equal(t, "sales@x", lead.Fields.String("lead_owner"))
	assert.Contains(t, lead.Fields.String("notes"), "Hi, what are your prices?")

	msg, err := h.store.FindOne(ctx, crm.KindMessage, "message_id", "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, lead.Name, msg.Fields.String("lead"))
	assert.Equal(t, DirectionReceived, msg.Fields.String("direction"))
	assert.Equal(t, StatusDelivered, msg.Fields.String("status"))
	assert.Equal(t, "CONV-15551234567-20260501", msg.Fields.String("conversation_id"))

	require.Len(t, h.queue.tasks, 1)
	assert.Equal(t, queue.TaskBotProcessMessage, h.queue.tasks[0].task)
	assert.Equal(t, BotMessageTask{Phone: "15551234567", Message: "Hi, what are your prices?", MessageID: "wamid.1"}, h.queue.tasks[0].payload)
}

func TestProcessor_LinksExistingContactByFormattedPhone(t *testing.T) {
	h := newProcHarness(t, false)
	ctx := context.Background()
	contact, err := h.store.Create(ctx, crm.KindContact, crm.Fields{"mobile_no": "+15551234567"})
	require.NoError(t, err)

	require.NoError(t, h.proc.Process(ctx, textDelivery("wamid.2", "15551234567", "hello")))

	msg, err := h.store.FindOne(ctx, crm.KindMessage, "message_id", "wamid.2")
	require.NoError(t, err)
	assert.Equal(t, contact.Name, msg.Fields.String("contact"))
	_, err = h.store.FindOne(ctx, crm.KindLead, "mobile_no", "15551234567", "+15551234567")
	assert.ErrorIs(t, err, crm.ErrNotFound)
	assert.Empty(t, h.queue.tasks, "bot disabled")
}

func TestProcessor_DuplicateDeliveryIsIgnored(t *testing.T) {
	h := newProcHarness(t, true)
	ctx := context.Background()

	require.NoError(t, h.proc.Process(ctx, textDelivery("wamid.3", "15550000001", "one")))
	require.NoError(t, h.proc.Process(ctx, textDelivery("wamid.3", "15550000001", "one")))
	assert.Len(t, h.queue.tasks, 1)
}

func TestProcessor_StatusUpdatesMessageLog(t *testing.T) {
	h := newProcHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.proc.Process(ctx, textDelivery("wamid.4", "15550000002", "x")))

	err := h.proc.Process(ctx, WebhookPayload{Entry: []Entry{{Changes: []Change{{Value: Value{
		Statuses: []StatusUpdate{{ID: "wamid.4", Status: "read", Timestamp: "1777626060"}, {ID: "unknown", Status: "read"}},
	}}}}}})
	require.NoError(t, err)

	msg, err := h.store.FindOne(ctx, crm.KindMessage, "message_id", "wamid.4")
	require.NoError(t, err)
	assert.Equal(t, "read", msg.Fields.String("status"))
}

type flakyStore struct {
	*crm.MemoryStore
	failKind string
}

func (s *flakyStore) Create(ctx context.Context, kind string, fields crm.Fields) (crm.Record, error) {
	if kind == s.failKind {
		return crm.Record{}, errors.New("crm unavailable")
	}
	return s.MemoryStore.Create(ctx, kind, fields)
}

type published struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (p *published) Publish(event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.data = append(p.data, data)
}

func TestProcessor_FailedDeliveryCanBeReplayed(t *testing.T) {
	store := &flakyStore{MemoryStore: crm.NewMemoryStore(), failKind: crm.KindLead}
	q := &fakeQueue{}
	p := NewProcessor(ProcessorOptions{BusinessNumber: "+10000000000", BotEnabled: true},
		crm.NewLeads(store, nil, nil), NewMemoryDeduper(), q, nil)
	ctx := context.Background()

	err := p.Process(ctx, textDelivery("wamid.5", "15550000005", "are you open?"))
	require.Error(t, err)
	_, err = store.FindOne(ctx, crm.KindMessage, "message_id", "wamid.5")
	require.ErrorIs(t, err, crm.ErrNotFound)
	assert.Empty(t, q.tasks)

	store.failKind = ""
	require.NoError(t, p.Process(ctx, textDelivery("wamid.5", "15550000005", "are you open?")))
	_, err = store.FindOne(ctx, crm.KindMessage, "message_id", "wamid.5")
	require.NoError(t, err)
	require.Len(t, q.tasks, 1)
}

func TestProcessor_ReplayFinishesFailedBotHandoff(t *testing.T) {
	h := newProcHarness(t, true)
	ctx := context.Background()
	h.queue.err = errors.New("queue down")

	require.Error(t, h.proc.Process(ctx, textDelivery("wamid.6", "15550000006", "call me")))
	assert.Empty(t, h.queue.tasks)

	h.queue.err = nil
	require.NoError(t, h.proc.Process(ctx, textDelivery("wamid.6", "15550000006", "call me")))
	require.Len(t, h.queue.tasks, 1)
	assert.Equal(t, BotMessageTask{Phone: "15550000006", Message: "call me", MessageID: "wamid.6"}, h.queue.tasks[0].payload)

	// Handed off now; a third delivery is a plain duplicate.
	require.NoError(t, h.proc.Process(ctx, textDelivery("wamid.6", "15550000006", "call me")))
	assert.Len(t, h.queue.tasks, 1)
}

func TestProcessor_IgnoresUnknownStatus(t *testing.T) {
	h := newProcHarness(t, false)
	ctx := context.Background()
	require.NoError(t, h.proc.Process(ctx, textDelivery("wamid.7", "15550000007", "x")))

	require.NoError(t, h.proc.Process(ctx, WebhookPayload{Entry: []Entry{{Changes: []Change{{Value: Value{
		Statuses: []StatusUpdate{{ID: "wamid.7", Status: "deleted"}},
	}}}}}}))

	msg, err := h.store.FindOne(ctx, crm.KindMessage, "message_id", "wamid.7")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, msg.Fields.String("status"))
}

func TestProcessor_PublishesLiveUpdates(t *testing.T) {
	h := newProcHarness(t, false)
	pub := &published{}
	h.proc.opts.Publisher = pub
	ctx := context.Background()

	require.NoError(t, h.proc.Process(ctx, textDelivery("wamid.8", "15550000008", "hello")))
	require.NoError(t, h.proc.Process(ctx, WebhookPayload{Entry: []Entry{{Changes: []Change{{Value: Value{
		Statuses: []StatusUpdate{{ID: "wamid.8", Status: "read", Timestamp: "1777626060"}},
	}}}}}}))

	require.Equal(t, []string{EventMessageReceived, EventStatusUpdate}, pub.events)
	msg := pub.data[0].(MessageUpdate)
	assert.Equal(t, "15550000008", msg.PhoneNumber)
	assert.Equal(t, "hello", msg.MessageBody)
	assert.Equal(t, DirectionReceived, msg.Direction)
	assert.Equal(t, StatusChange{MessageID: "wamid.8", Status: "read", Timestamp: time.Unix(1777626060, 0).UTC()}, pub.data[1])
}

func TestRedisDeduper_Release(t *testing.T) {
	db, mock := redismock.NewClientMock()
	d := NewRedisDeduper(db)

	mock.ExpectDel("dedup:msg:wamid.9").SetVal(1)
	require.NoError(t, d.Release(context.Background(), "wamid.9"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisDeduper_Claim(t *testing.T) {
	db, mock := redismock.NewClientMock()
	d := NewRedisDeduper(db)

	mock.ExpectSetNX("dedup:msg:wamid.9", 1, DedupTTL).SetVal(true)
	mock.ExpectSetNX("dedup:msg:wamid.9", 1, DedupTTL).SetVal(false)

	first, err := d.Claim(context.Background(), "wamid.9")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := d.Claim(context.Background(), "wamid.9")
	require.NoError(t, err)
	assert.False(t, again)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_SendText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/123/messages", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.out"}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, AccessToken: "tok", PhoneNumberID: "123"}, nil)
	res, err := c.SendText(context.Background(), "+15551234567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out", res.MessageID)
	assert.Equal(t, "whatsapp", got["messaging_product"])
	assert.Equal(t, "+15551234567", got["to"])
	assert.Equal(t, map[string]any{"body": "hello"}, got["text"])
}

func TestClient_SendTextGraphError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"expired","code":190}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, AccessToken: "tok", PhoneNumberID: "123"}, nil)
	_, err := c.SendText(context.Background(), "+1", "x")
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Contains(t, err.Error(), "190")

	_, err = NewClient(ClientOptions{}, nil).SendText(context.Background(), "+1", "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type fakeSender struct{ sent []string }

func (f *fakeSender) SendText(ctx context.Context, to, body string) (DeliveryResult, error) {
	f.sent = append(f.sent, to+":"+body)
	return DeliveryResult{MessageID: "wamid.bot", To: to}, nil
}

func TestMessenger_LogsBotMessage(t *testing.T) {
	store := crm.NewMemoryStore()
	s := &fakeSender{}
	m := NewMessenger(s, store, "+10000000000", nil)

	require.NoError(t, m.SendBotMessage(context.Background(), "+15551234567", "Hello!"))
	assert.Equal(t, []string{"+15551234567:Hello!"}, s.sent)

	rec, err := store.FindOne(context.Background(), crm.KindMessage, "message_id", "wamid.bot")
	require.NoError(t, err)
	assert.True(t, rec.Fields.Bool("is_bot_message"))
	assert.Equal(t, DirectionSent, rec.Fields.String("direction"))
}
