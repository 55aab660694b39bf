// Package export serializes the job collection to the dashboard's CSV format.
//
// Fields are joined with commas without quoting. Values containing commas or
// newlines therefore break the row layout; job data is assumed comma-free.
package export

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/justsurfingit/career-tracker/internal/models"
)

const (
	Filename = "my_career_data.csv"
	Header   = "Company,Position,Salary,Status,Date"
)

// Short date layouts, index-aligned with supportedLocales. The first entry is
// the fallback when nothing in Accept-Language matches.
var (
	supportedLocales = []language.Tag{
		language.AmericanEnglish,
		language.BritishEnglish,
		language.German,
		language.French,
		language.Spanish,
		language.Italian,
		language.Dutch,
		language.Japanese,
		language.Chinese,
		language.Korean,
	}
	dateLayouts = []string{
		"1/2/2006",
		"02/01/2006",
		"2.1.2006",
		"02/01/2006",
		"2/1/2006",
		"2/1/2006",
		"2-1-2006",
		"2006/1/2",
		"2006/1/2",
		"2006. 1. 2.",
	}
	localeMatcher = language.NewMatcher(supportedLocales)
)

// DateLayout picks the short date layout for an Accept-Language header value.
func DateLayout(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return dateLayouts[0]
	}
	_, idx, conf := localeMatcher.Match(tags...)
	if conf == language.No {
		return dateLayouts[0]
	}
	return dateLayouts[idx]
}

// Options controls how dates are rendered.
type Options struct {
	DateLayout string
	Location   *time.Location
}

// WriteCSV writes the header and one CRLF-terminated row per job.
func WriteCSV(w io.Writer, jobs []models.Job, opts Options) error {
	if opts.DateLayout == "" {
		opts.DateLayout = dateLayouts[0]
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\r\n"); err != nil {
		return err
	}
	for _, job := range jobs {
		if _, err := bw.WriteString(Row(job, opts) + "\r\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Row renders a single job. An absent salary is left empty.
func Row(job models.Job, opts Options) string {
	salary := ""
	if job.SalaryExpectation != nil {
		salary = strconv.FormatFloat(*job.SalaryExpectation, 'f', -1, 64)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return strings.Join([]string{
		job.Company,
		job.Position,
		salary,
		string(job.Status),
		job.DateApplied.In(loc).Format(opts.DateLayout),
	}, ",")
}
