package services

import (
	"context"
	"net/mail"
	"strings"

	"github.com/justsurfingit/career-tracker/internal/models"
)

// JobLister is the read side of the job store.
type JobLister interface {
	List(ctx context.Context) ([]models.Job, error)
}

type MatcherService struct {
	Jobs JobLister
}

func NewMatcherService(jobs JobLister) *MatcherService {
	return &MatcherService{Jobs: jobs}
}

// EmailMatch is the company an email was attributed to and the jobs at
// that company still open to a status change.
type EmailMatch struct {
	Company string
	Jobs    []models.Job
}

// FindJobsFromEmail attributes an email to a tracked company by subject,
// sender display name or sender domain. Jobs already Rejected or Offer are
// not candidates. A nil match means no company qualified.
func (s *MatcherService) FindJobsFromEmail(ctx context.Context, subject, rawSender string) (*EmailMatch, error) {
	jobs, err := s.Jobs.List(ctx)
	if err != nil {
		return nil, err
	}
	return matchEmail(jobs, subject, rawSender), nil
}

func matchEmail(jobs []models.Job, subject, rawSender string) *EmailMatch {
	senderName, senderDomain := splitSender(rawSender)
	subject = strings.ToLower(subject)

	var order []string
	active := make(map[string][]models.Job)
	display := make(map[string]string)
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(j.Company))
		// Short names like "Go" or "X" match nearly every email.
		if len(key) < 3 {
			continue
		}
		if _, seen := active[key]; !seen {
			order = append(order, key)
			display[key] = j.Company
		}
		active[key] = append(active[key], j)
	}

	for _, name := range order {
		if strings.Contains(subject, name) ||
			(senderName != "" && strings.Contains(senderName, name)) ||
			(senderDomain != "" && strings.Contains(senderDomain, compact(name))) {
			return &EmailMatch{Company: display[name], Jobs: active[name]}
		}
	}
	return nil
}

// splitSender turns "Stripe Recruiting <jobs@stripe.com>" into
// ("stripe recruiting", "stripe.com").
func splitSender(raw string) (name, domain string) {
	addr := strings.ToLower(raw)
	if parsed, err := mail.ParseAddress(raw); err == nil {
		name = strings.ToLower(parsed.Name)
		addr = strings.ToLower(parsed.Address)
	}
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		domain = strings.TrimSuffix(addr[at+1:], ">")
	}
	return name, domain
}

// compact drops spaces so "acme corp" can match "acmecorp.com".
func compact(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
