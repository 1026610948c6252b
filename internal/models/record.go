package models

import "time"

// Verdict is the binary grading outcome. Values are the Russian terms the
// grading prompts and downstream consumers of result files expect.
type Verdict string

const (
	VerdictPass Verdict = "зачтено"
	VerdictFail Verdict = "не зачтено"
)

// Confidence levels reported by the authorship detector.
const (
	ConfidenceLow    = "низкая"
	ConfidenceMedium = "средняя"
	ConfidenceHigh   = "высокая"
)

// DateLayout is the timestamp format stored inside result records.
const DateLayout = "2006-01-02 15:04:05"

// FileKind identifies the submission document format.
type FileKind string

const (
	FileKindDocx FileKind = "docx"
	FileKindDoc  FileKind = "doc"
	FileKindHTML FileKind = "html"
	FileKindPDF  FileKind = "pdf"
)

// SubmissionDescriptor points at one submission file inside a student's
// folder. Produced by discovery, consumed once by the processor.
type SubmissionDescriptor struct {
	OwnerDir string
	FilePath string
	Kind     FileKind
}

// GradingVerdict is the parsed outcome of one model evaluation.
type GradingVerdict struct {
	Result  Verdict `json:"result"`
	Comment string  `json:"comment"`
}

// AuthorshipCheck holds the AI-generation detector output for a submission.
type AuthorshipCheck struct {
	Detected   bool     `json:"ai_detected"`
	Confidence string   `json:"confidence"`
	Reasons    []string `json:"reasons"`
	Comment    string   `json:"comment"`
}

// ResultRecord is the per-file grading document persisted under the owner
// directory's results folder. Field names are a compatibility contract with
// existing result consumers and must not change.
type ResultRecord struct {
	Student    string           `json:"student"`
	File       string           `json:"file"`
	Date       string           `json:"date"`
	Result     Verdict          `json:"result"`
	Comment    string           `json:"comment"`
	Authorship *AuthorshipCheck `json:"ai_detection"`
	CheckedBy  string           `json:"checked_by"`
}

// ParseDate returns the record timestamp, or the zero time when the field is
// absent or malformed.
func (r ResultRecord) ParseDate() time.Time {
	if r.Date == "" {
		return time.Time{}
	}
	ts, err := time.ParseInLocation(DateLayout, r.Date, time.Local)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// AggregatedRow is one line of the final report, rebuilt from scratch on
// every aggregation pass.
type AggregatedRow struct {
	Student          string
	Result           string
	AuthorshipStatus string
	AuthorshipDetail string
	Comment          string
	SourcePath       string
}
