package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/justsurfingit/career-tracker/internal/apperr"
	"github.com/justsurfingit/career-tracker/internal/dtos"
	"github.com/justsurfingit/career-tracker/internal/models"
)

type recordingUpdater struct {
	calls map[string]string
	err   error
}

func (r *recordingUpdater) Update(ctx context.Context, id string, req *dtos.JobUpdateRequest) (*models.Job, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.calls == nil {
		r.calls = map[string]string{}
	}
	r.calls[id] = *req.Status
	return &models.Job{ID: id, Status: models.Status(*req.Status)}, nil
}

// scriptedLLM answers the role prompt with role and the status prompt with status.
func scriptedLLM(role, status string) *LLMService {
	return &LLMService{generate: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "index of the role") {
			return role, nil
		}
		return status, nil
	}}
}

func message(id, from, subject, body string) *gmail.Message {
	return &gmail.Message{
		Id: id,
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
			},
			Body: &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte(body))},
		},
	}
}

func newEmailService(llm *LLMService, jobs []models.Job, updater JobUpdater) *EmailService {
	return &EmailService{
		LLM:     llm,
		Matcher: NewMatcherService(fakeLister{jobs: jobs}),
		Jobs:    updater,
		log:     zap.NewNop(),
	}
}

func TestProcessMessage_SingleJob(t *testing.T) {
	updater := &recordingUpdater{}
	jobs := []models.Job{{ID: "a", Company: "Acme", Position: "Analyst", Status: models.StatusApplied}}
	svc := newEmailService(scriptedLLM("", `{"status":"Interviewing","summary":"Interview invite"}`), jobs, updater)

	updated, err := svc.processMessage(context.Background(), message("m1", "Acme Talent <jobs@acme.com>", "Interview", "Let's talk"))

	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, map[string]string{"a": "Interviewing"}, updater.calls)
}

func TestProcessMessage_AmbiguousResolvedByLLM(t *testing.T) {
	updater := &recordingUpdater{}
	jobs := []models.Job{
		{ID: "a", Company: "Acme", Position: "Analyst", Status: models.StatusApplied},
		{ID: "b", Company: "Acme", Position: "Engineer", Status: models.StatusInterviewing},
	}
	svc := newEmailService(scriptedLLM("1", `{"status":"Offer","summary":"Offer"}`), jobs, updater)

	updated, err := svc.processMessage(context.Background(), message("m1", "hr@acme.com", "Your Engineer offer", ""))
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, map[string]string{"b": "Offer"}, updater.calls)
}

func TestProcessMessage_DecidedWithoutUpdate(t *testing.T) {
	jobs := []models.Job{
		{ID: "a", Company: "Acme", Position: "Analyst", Status: models.StatusInterviewing},
		{ID: "b", Company: "Acme", Position: "Engineer", Status: models.StatusApplied},
		{ID: "c", Company: "Globex", Position: "Analyst", Status: models.StatusInterviewing},
	}

	tests := []struct {
		name    string
		llm     *LLMService
		updater *recordingUpdater
		msg     *gmail.Message
	}{
		{"unmatched sender", scriptedLLM("0", `{"status":"Offer"}`), &recordingUpdater{}, message("m", "news@example.com", "Weekly digest", "")},
		{"ambiguous", scriptedLLM("-1", `{"status":"Offer"}`), &recordingUpdater{}, message("m", "hr@acme.com", "Hello", "")},
		{"no change", scriptedLLM("", `{"status":"NO_CHANGE","summary":"Receipt"}`), &recordingUpdater{}, message("m", "hr@globex.com", "Received", "")},
		{"same status", scriptedLLM("", `{"status":"Interviewing"}`), &recordingUpdater{}, message("m", "hr@globex.com", "Round two", "")},
		{"job deleted meanwhile", scriptedLLM("", `{"status":"Offer"}`), &recordingUpdater{err: apperr.NotFound()}, message("m", "hr@globex.com", "Offer", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newEmailService(tt.llm, jobs, tt.updater)

			updated, err := svc.processMessage(context.Background(), tt.msg)
			require.NoError(t, err)
			assert.False(t, updated)
			assert.Empty(t, tt.updater.calls)
		})
	}
}

func TestProcessMessage_TransientFailures(t *testing.T) {
	acme := []models.Job{{ID: "a", Company: "Acme", Position: "Analyst", Status: models.StatusApplied}}
	quota := &LLMService{generate: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("quota exceeded")
	}}

	tests := []struct {
		name string
		svc  *EmailService
	}{
		{"store unavailable on update", newEmailService(scriptedLLM("", `{"status":"Rejected"}`), acme,
			&recordingUpdater{err: apperr.Internal("update job", errors.New("conn reset"))})},
		{"model unavailable", newEmailService(quota, acme, &recordingUpdater{})},
		{"unparseable model answer", newEmailService(scriptedLLM("", "maybe?"), acme, &recordingUpdater{})},
		{"job list unavailable", &EmailService{
			LLM:     scriptedLLM("", `{"status":"Rejected"}`),
			Matcher: NewMatcherService(fakeLister{err: errors.New("down")}),
			Jobs:    &recordingUpdater{},
			log:     zap.NewNop(),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated, err := tt.svc.processMessage(context.Background(), message("m", "hr@acme.com", "Update", ""))
			assert.Error(t, err)
			assert.False(t, updated)
		})
	}
}

// fakeGmail serves two pages of history and the messages they reference.
func fakeGmail(t *testing.T, msgs map[string]*gmail.Message) *gmail.Service {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/history", func(w http.ResponseWriter, r *http.Request) {
		var page gmail.ListHistoryResponse
		switch r.URL.Query().Get("pageToken") {
		case "":
			page = gmail.ListHistoryResponse{
				History:       []*gmail.History{{MessagesAdded: []*gmail.HistoryMessageAdded{{Message: &gmail.Message{Id: "m1"}}}}},
				HistoryId:     850,
				NextPageToken: "p2",
			}
		case "p2":
			page = gmail.ListHistoryResponse{
				History:   []*gmail.History{{MessagesAdded: []*gmail.HistoryMessageAdded{{Message: &gmail.Message{Id: "m2"}}}}},
				HistoryId: 900,
			}
		default:
			http.Error(w, "bad page token", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(page)
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		msg, ok := msgs[strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(msg)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := gmail.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)
	return client
}

func twoPageMailbox() map[string]*gmail.Message {
	return map[string]*gmail.Message{
		"m1": message("m1", "news@example.com", "Weekly digest", ""),
		"m2": message("m2", "Acme Talent <jobs@acme.com>", "Interview invitation", "Pick a slot"),
	}
}

func TestPerformIncrementalSync_ReadsEveryPage(t *testing.T) {
	svc := &EmailService{Gmail: fakeGmail(t, twoPageMailbox()), log: zap.NewNop()}

	refs, historyID, err := svc.performIncrementalSync(context.Background(), 500)
	require.NoError(t, err)

	var ids []string
	for _, m := range refs {
		ids = append(ids, m.Id)
	}
	assert.Equal(t, []string{"m1", "m2"}, ids)
	assert.Equal(t, uint64(900), historyID)
}

var mailboxColumns = []string{"id", "email", "last_history_id"}

func newSyncService(t *testing.T, updater JobUpdater) (*EmailService, sqlmock.Sqlmock) {
	t.Helper()

	jobSvc, mock := newMockService(t)
	jobs := []models.Job{{ID: "a", Company: "Acme", Position: "Analyst", Status: models.StatusApplied}}
	svc := newEmailService(scriptedLLM("", `{"status":"Interviewing","summary":"Interview invite"}`), jobs, updater)
	svc.DB = jobSvc.DB
	svc.Gmail = fakeGmail(t, twoPageMailbox())
	return svc, mock
}

func expectUnseen(mock sqlmock.Sqlmock, id string) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "processed_emails" WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
}

func TestSyncEmails_ProcessesEveryHistoryPage(t *testing.T) {
	updater := &recordingUpdater{}
	svc, mock := newSyncService(t, updater)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mailbox_states"`)).
		WillReturnRows(sqlmock.NewRows(mailboxColumns).AddRow(1, "me", 500))
	expectUnseen(mock, "m1")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "processed_emails"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectUnseen(mock, "m2")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "processed_emails"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "mailbox_states" SET "last_history_id"=$1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SyncEmails(context.Background()))

	assert.Equal(t, map[string]string{"a": "Interviewing"}, updater.calls, "the email on the second page is applied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncEmails_TransientFailureKeepsEmailAndBookmark(t *testing.T) {
	svc, mock := newSyncService(t, &recordingUpdater{err: apperr.Internal("update job", errors.New("conn reset"))})

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mailbox_states"`)).
		WillReturnRows(sqlmock.NewRows(mailboxColumns).AddRow(1, "me", 500))
	expectUnseen(mock, "m1")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "processed_emails"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// m2 fails to apply: it is not recorded and the bookmark does not move.
	expectUnseen(mock, "m2")

	require.NoError(t, svc.SyncEmails(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncEmails_SkipsAlreadyProcessed(t *testing.T) {
	updater := &recordingUpdater{}
	svc, mock := newSyncService(t, updater)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "mailbox_states"`)).
		WillReturnRows(sqlmock.NewRows(mailboxColumns).AddRow(1, "me", 500))
	for _, id := range []string{"m1", "m2"} {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "processed_emails" WHERE id = $1`)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	}
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "mailbox_states" SET "last_history_id"=$1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SyncEmails(context.Background()))

	assert.Empty(t, updater.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetry(t *testing.T) {
	calls := 0
	err := retry(context.Background(), zap.NewNop(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	cause := errors.New("boom")
	err = retry(context.Background(), zap.NewNop(), 2, time.Millisecond, func() error {
		calls++
		return cause
	})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, calls)
}

func TestRetry_HistoryExpiredFailsFast(t *testing.T) {
	calls := 0
	err := retry(context.Background(), zap.NewNop(), 3, time.Millisecond, func() error {
		calls++
		return &googleapi.Error{Code: http.StatusNotFound}
	})
	assert.True(t, isHistoryExpiredError(err))
	assert.Equal(t, 1, calls)
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry(ctx, zap.NewNop(), 3, time.Hour, func() error { return errors.New("503") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsHistoryExpiredError(t *testing.T) {
	assert.True(t, isHistoryExpiredError(fmt.Errorf("list: %w", &googleapi.Error{Code: 404})))
	assert.False(t, isHistoryExpiredError(&googleapi.Error{Code: 500}))
	assert.False(t, isHistoryExpiredError(errors.New("404")))
	assert.False(t, isHistoryExpiredError(nil))
}

func TestGetEmailBody(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	top := message("m", "a@b.c", "s", "top level")
	assert.Equal(t, "top level", getEmailBody(top))

	multipart := &gmail.Message{Payload: &gmail.MessagePart{
		Parts: []*gmail.MessagePart{
			{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<p>html</p>")}},
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: enc("plain")}},
		},
	}}
	assert.Equal(t, "plain", getEmailBody(multipart))

	htmlOnly := &gmail.Message{Payload: &gmail.MessagePart{
		Parts: []*gmail.MessagePart{{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<p>html</p>")}}},
	}}
	assert.Equal(t, "<p>html</p>", getEmailBody(htmlOnly))

	assert.Empty(t, getEmailBody(&gmail.Message{}))
}

func TestRun_DisabledWithoutClient(t *testing.T) {
	svc := newEmailService(nil, nil, &recordingUpdater{})

	done := make(chan struct{})
	go func() {
		svc.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately without a gmail client")
	}
}
