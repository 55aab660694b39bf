package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/justsurfingit/career-tracker/internal/apperr"
	"github.com/justsurfingit/career-tracker/internal/config"
	"github.com/justsurfingit/career-tracker/internal/dtos"
	"github.com/justsurfingit/career-tracker/internal/models"
)

const (
	gmailUser       = "me"
	syncTimeout     = 2 * time.Minute
	fullSyncResults = 50
)

// JobUpdater applies a status change through the same validation path as the API.
type JobUpdater interface {
	Update(ctx context.Context, id string, req *dtos.JobUpdateRequest) (*models.Job, error)
}

type EmailService struct {
	DB      *gorm.DB
	LLM     *LLMService
	Matcher *MatcherService
	Jobs    JobUpdater
	Gmail   *gmail.Service

	cfg config.GmailConfig
	log *zap.Logger
}

func NewEmailService(db *gorm.DB, llm *LLMService, client *gmail.Service, matcher *MatcherService, jobs JobUpdater, cfg config.GmailConfig, log *zap.Logger) *EmailService {
	return &EmailService{
		DB:      db,
		LLM:     llm,
		Matcher: matcher,
		Jobs:    jobs,
		Gmail:   client,
		cfg:     cfg,
		log:     log.Named("mailbox"),
	}
}

// Run syncs once immediately and then on every poll interval until ctx is
// cancelled.
func (s *EmailService) Run(ctx context.Context) {
	if s.Gmail == nil || s.LLM == nil {
		s.log.Warn("mailbox sync disabled: gmail client or llm missing")
		return
	}

	s.log.Info("mailbox sync started", zap.Duration("interval", s.cfg.PollInterval))
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.SyncEmails(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sync cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.log.Info("mailbox sync stopped")
			return
		case <-ticker.C:
		}
	}
}

// SyncEmails runs one cycle: fetch new messages, process the unseen ones and
// advance the history bookmark. A message that fails on a transient error is
// not recorded and the bookmark stays put, so the next cycle sees it again.
func (s *EmailService) SyncEmails(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	var state models.MailboxState
	if err := s.DB.WithContext(ctx).
		Where(models.MailboxState{Email: gmailUser}).
		FirstOrCreate(&state).Error; err != nil {
		return fmt.Errorf("load mailbox state: %w", err)
	}

	var (
		refs         []*gmail.Message
		newHistoryID uint64
		err          error
	)
	if state.LastHistoryID == 0 {
		s.log.Info("no history bookmark, running full sync")
		refs, newHistoryID, err = s.performFullSync(ctx)
	} else {
		refs, newHistoryID, err = s.performIncrementalSync(ctx, state.LastHistoryID)
		if isHistoryExpiredError(err) {
			s.log.Warn("history id expired, falling back to full sync", zap.Uint64("history_id", state.LastHistoryID))
			refs, newHistoryID, err = s.performFullSync(ctx)
		}
	}
	if err != nil {
		return err
	}

	s.log.Debug("candidate emails fetched", zap.Int("count", len(refs)))

	complete := true
	for _, ref := range refs {
		seen, err := s.alreadyProcessed(ctx, ref.Id)
		if err != nil {
			return err
		}
		if seen {
			continue
		}

		msg, err := s.fetchMessage(ctx, ref.Id)
		if err != nil {
			s.log.Warn("message fetch failed, will retry next cycle", zap.String("message_id", ref.Id), zap.Error(err))
			complete = false
			continue
		}
		if _, err := s.processMessage(ctx, msg); err != nil {
			s.log.Warn("message processing failed, will retry next cycle", zap.String("message_id", msg.Id), zap.Error(err))
			complete = false
			continue
		}

		if err := s.DB.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.ProcessedEmail{ID: msg.Id}).Error; err != nil {
			return fmt.Errorf("record processed email: %w", err)
		}
	}

	if complete && newHistoryID > state.LastHistoryID {
		if err := s.DB.WithContext(ctx).
			Model(&models.MailboxState{}).
			Where("id = ?", state.ID).
			Update("last_history_id", newHistoryID).Error; err != nil {
			return fmt.Errorf("save history id: %w", err)
		}
		s.log.Debug("history bookmark advanced", zap.Uint64("history_id", newHistoryID))
	}
	return nil
}

func (s *EmailService) alreadyProcessed(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).
		Model(&models.ProcessedEmail{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check processed email: %w", err)
	}
	return count > 0, nil
}

// performFullSync lists recent matching messages and anchors the bookmark at
// the mailbox's current history id.
func (s *EmailService) performFullSync(ctx context.Context) ([]*gmail.Message, uint64, error) {
	var resp *gmail.ListMessagesResponse
	err := retry(ctx, s.log, 3, time.Second, func() error {
		var e error
		resp, e = s.Gmail.Users.Messages.List(gmailUser).
			Q(s.cfg.LookbackQuery).
			MaxResults(fullSyncResults).
			Context(ctx).Do()
		return e
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	profile, err := s.Gmail.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, 0, fmt.Errorf("get profile: %w", err)
	}

	return resp.Messages, profile.HistoryId, nil
}

// performIncrementalSync collects messages added since startID across every
// page of history. The returned history id comes from the last page.
func (s *EmailService) performIncrementalSync(ctx context.Context, startID uint64) ([]*gmail.Message, uint64, error) {
	var (
		added     []*gmail.Message
		historyID uint64
	)
	err := retry(ctx, s.log, 3, time.Second, func() error {
		added, historyID = nil, 0
		return s.Gmail.Users.History.List(gmailUser).
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			Pages(ctx, func(page *gmail.ListHistoryResponse) error {
				for _, h := range page.History {
					for _, m := range h.MessagesAdded {
						if m.Message != nil {
							added = append(added, m.Message)
						}
					}
				}
				historyID = page.HistoryId
				return nil
			})
	})
	if err != nil {
		return nil, 0, err
	}
	return added, historyID, nil
}

func (s *EmailService) fetchMessage(ctx context.Context, id string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := retry(ctx, s.log, 2, 500*time.Millisecond, func() error {
		var e error
		msg, e = s.Gmail.Users.Messages.Get(gmailUser, id).Context(ctx).Do()
		return e
	})
	return msg, err
}

// processMessage matches one email to a job and applies the status the LLM
// reads from it. It reports whether a job was updated. An error means the
// outcome is unknown (store or model unavailable) and the email should be
// tried again; every decided outcome, including "nothing to do", returns nil.
func (s *EmailService) processMessage(ctx context.Context, msg *gmail.Message) (bool, error) {
	headers := parseHeaders(msg)
	subject, sender := headers["Subject"], headers["From"]
	log := s.log.With(zap.String("message_id", msg.Id), zap.String("subject", subject))

	match, err := s.Matcher.FindJobsFromEmail(ctx, subject, sender)
	if err != nil {
		return false, fmt.Errorf("match email: %w", err)
	}
	if match == nil {
		log.Debug("no tracked company matches", zap.String("from", sender))
		return false, nil
	}

	body := getEmailBody(msg)

	target := &match.Jobs[0]
	if len(match.Jobs) > 1 {
		titles := make([]string, len(match.Jobs))
		for i, j := range match.Jobs {
			titles[i] = j.Position
		}
		idx := s.LLM.IdentifyJobRole(ctx, titles, subject, body)
		if idx < 0 {
			log.Info("ambiguous email skipped", zap.String("company", match.Company), zap.Strings("positions", titles))
			return false, nil
		}
		target = &match.Jobs[idx]
	}

	decision, err := s.LLM.AnalyzeEmailStatus(ctx, match.Company, subject, body)
	if err != nil {
		return false, fmt.Errorf("classify email: %w", err)
	}
	if decision.Status == "" || decision.Status == target.Status {
		log.Debug("no status change", zap.String("job_id", target.ID), zap.String("summary", decision.Summary))
		return false, nil
	}

	status := string(decision.Status)
	if _, err := s.Jobs.Update(ctx, target.ID, &dtos.JobUpdateRequest{Status: &status}); err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return false, fmt.Errorf("update job %s: %w", target.ID, err)
		}
		// Deleted or rejected by validation; retrying cannot help.
		log.Info("status update refused", zap.String("job_id", target.ID), zap.Error(err))
		return false, nil
	}

	log.Info("job status updated from email",
		zap.String("job_id", target.ID),
		zap.String("from", string(target.Status)),
		zap.String("to", status),
		zap.String("summary", decision.Summary),
	)
	return true, nil
}

// retry runs f with exponential backoff. An expired history id fails fast so
// the caller can fall back to a full sync.
func retry(ctx context.Context, log *zap.Logger, attempts int, sleep time.Duration, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		if isHistoryExpiredError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		log.Warn("gmail api error, retrying", zap.Error(err), zap.Duration("backoff", sleep))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

func isHistoryExpiredError(err error) bool {
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusNotFound
}

func parseHeaders(msg *gmail.Message) map[string]string {
	res := make(map[string]string)
	if msg.Payload == nil {
		return res
	}
	for _, h := range msg.Payload.Headers {
		res[h.Name] = h.Value
	}
	return res
}

// getEmailBody prefers the top-level body, then text/plain, then text/html.
func getEmailBody(msg *gmail.Message) string {
	if msg.Payload == nil {
		return ""
	}
	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		return decodeBody(msg.Payload.Body.Data)
	}
	for _, mime := range []string{"text/plain", "text/html"} {
		for _, part := range msg.Payload.Parts {
			if part.MimeType == mime && part.Body != nil && part.Body.Data != "" {
				return decodeBody(part.Body.Data)
			}
		}
	}
	return ""
}

// Gmail uses URL-safe base64 and usually omits padding.
func decodeBody(data string) string {
	if d, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(d)
	}
	d, _ := base64.URLEncoding.DecodeString(data)
	return string(d)
}
