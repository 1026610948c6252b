// Package summary folds per-file grading records into one report row per
// student and writes the final spreadsheet.
package summary

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/edulab/autochecker/internal/models"
)

const (
	statusNotChecked = "Не проверено"
	statusNo         = "Нет"

	detailNotChecked   = "Проверка не выполнялась"
	detailDetected     = "Признаки AI-генерации зафиксированы"
	detailNotDetected  = "Признаки AI-генерации не обнаружены"
	detailLegacyRecord = "legacy result.txt"

	legacyFileName = "result.txt"
)

var (
	moodleFolderPattern = regexp.MustCompile(`^(.+?)_(\d+)_assignsubmission_(\w+)$`)
	inlineIDPattern     = regexp.MustCompile(`ID[:=]\s*(\w{3,})`)
	bracketIDPattern    = regexp.MustCompile(`\[(?:id|ID)=(\w+)\]`)

	legacyResultPattern  = regexp.MustCompile(`РЕЗУЛЬТАТ: (.+)`)
	legacyCommentPattern = regexp.MustCompile(`(?s)КОММЕНТАРИЙ:\s*(.+?)(\n\n|\z)`)
)

var reportColumns = []string{"Студент", "Результат", "AI-детекция", "AI-детали", "Комментарий", "Путь к файлу"}

// candidate is one record competing to represent a student in the report.
type candidate struct {
	key      string
	ownerDir string
	row      models.AggregatedRow
	isPass   bool
	ts       time.Time
}

// Aggregator rebuilds the final report from all result records on disk.
type Aggregator struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewAggregator constructs the aggregator.
func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		logger: logger.With().Str("component", "aggregator").Logger(),
		now:    time.Now,
	}
}

// Aggregate walks every student folder under rootDir, merges multiple
// submissions per student by the priority rule (pass beats fail, then later
// timestamp, then longer comment) and writes the spreadsheet report. Winning
// records are also mirrored into the legacy per-student result file.
func (a *Aggregator) Aggregate(rootDir string) ([]models.AggregatedRow, string, error) {
	candidates, err := a.collect(rootDir)
	if err != nil {
		return nil, "", err
	}

	winners := make(map[string]candidate)
	for _, c := range candidates {
		best, seen := winners[c.key]
		if !seen || betterThan(c, best) {
			winners[c.key] = c
		}
	}

	rows := make([]models.AggregatedRow, 0, len(winners))
	for _, c := range winners {
		rows = append(rows, c.row)
		a.mirrorLegacy(c)
	}
	sort.Slice(rows, func(i, j int) bool {
		return foldName(rows[i].Student) < foldName(rows[j].Student)
	})

	reportPath := filepath.Join(rootDir, fmt.Sprintf("Итоговая_ведомость_%s.xlsx", filepath.Base(rootDir)))
	if err := writeReport(reportPath, rows); err != nil {
		return nil, "", err
	}

	a.logger.Info().Str("report", reportPath).Int("rows", len(rows)).Msg("summary written")
	return rows, reportPath, nil
}

// betterThan implements the strict priority order over candidates.
func betterThan(c, best candidate) bool {
	if c.isPass != best.isPass {
		return c.isPass
	}
	if !c.ts.Equal(best.ts) {
		return c.ts.After(best.ts)
	}
	return len([]rune(c.row.Comment)) > len([]rune(best.row.Comment))
}

func (a *Aggregator) collect(rootDir string) ([]candidate, error) {
	var candidates []candidate

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || filepath.Clean(path) == filepath.Clean(rootDir) {
			return nil
		}

		resultsDir := filepath.Join(path, "results")
		entries, readErr := os.ReadDir(resultsDir)
		if readErr == nil {
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
					continue
				}
				resultFile := filepath.Join(resultsDir, entry.Name())
				if c, ok := a.readRecord(resultFile, path, false); ok {
					candidates = append(candidates, c)
				}
			}
		}

		legacyFile := filepath.Join(path, legacyFileName)
		if _, statErr := os.Stat(legacyFile); statErr == nil {
			if c, ok := a.readRecord(legacyFile, path, true); ok {
				candidates = append(candidates, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", rootDir, err)
	}

	return candidates, nil
}

// readRecord loads one result document, falling back to the labeled-text
// legacy format when the content is not JSON.
func (a *Aggregator) readRecord(resultFile, ownerDir string, legacy bool) (candidate, bool) {
	content, err := os.ReadFile(resultFile)
	if err != nil {
		a.logger.Error().Err(err).Str("path", resultFile).Msg("result file unreadable")
		return candidate{}, false
	}

	var (
		record models.ResultRecord
		status string
		detail string
	)

	if err := json.Unmarshal(content, &record); err != nil {
		record = scrapeLegacyText(string(content), ownerDir)
		status, detail = statusNotChecked, detailNotChecked
	} else {
		if record.Student == "" {
			record.Student = filepath.Base(ownerDir)
		}
		status, detail = authorshipColumns(record.Authorship)
	}
	if legacy {
		detail = detailLegacyRecord
	}

	ts := record.ParseDate()
	if ts.IsZero() {
		if info, statErr := os.Stat(resultFile); statErr == nil {
			ts = info.ModTime()
		}
	}

	result := string(record.Result)
	if result == "" {
		result = "не определено"
	}
	comment := record.Comment
	if comment == "" {
		comment = "нет комментария"
	}

	return candidate{
		key:      dedupKey(record.Student, filepath.Base(ownerDir)),
		ownerDir: ownerDir,
		isPass:   record.Result == models.VerdictPass,
		ts:       ts,
		row: models.AggregatedRow{
			Student:          record.Student,
			Result:           result,
			AuthorshipStatus: status,
			AuthorshipDetail: detail,
			Comment:          comment,
			SourcePath:       resultFile,
		},
	}, true
}

func scrapeLegacyText(content, ownerDir string) models.ResultRecord {
	record := models.ResultRecord{Student: filepath.Base(ownerDir)}

	if m := legacyResultPattern.FindStringSubmatch(content); m != nil {
		record.Result = models.Verdict(strings.TrimSpace(m[1]))
	}
	if m := legacyCommentPattern.FindStringSubmatch(content); m != nil {
		record.Comment = strings.TrimSpace(m[1])
	}
	return record
}

func authorshipColumns(check *models.AuthorshipCheck) (status, detail string) {
	if check == nil {
		return statusNotChecked, detailNotChecked
	}

	comment := strings.TrimSpace(check.Comment)
	if check.Detected {
		status = fmt.Sprintf("Да (%s)", check.Confidence)
		switch {
		case comment != "":
			detail = comment
		case len(check.Reasons) > 0:
			detail = "Причины: " + strings.Join(check.Reasons, "; ")
		default:
			detail = detailDetected
		}
		return status, detail
	}

	if comment != "" {
		return statusNo, comment
	}
	return statusNo, detailNotDetected
}

// dedupKey prefers the numeric id from the Moodle folder naming convention,
// then id patterns embedded in the label, then the normalized label itself.
func dedupKey(student, folderName string) string {
	if m := moodleFolderPattern.FindStringSubmatch(student); m != nil {
		return m[2]
	}
	if m := inlineIDPattern.FindStringSubmatch(student); m != nil {
		return m[1]
	}
	if m := bracketIDPattern.FindStringSubmatch(student); m != nil {
		return m[1]
	}
	if m := moodleFolderPattern.FindStringSubmatch(folderName); m != nil {
		return m[2]
	}
	return foldName(student)
}

func foldName(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// mirrorLegacy writes the winning record back into the single-file-per-student
// format older consumers still read.
func (a *Aggregator) mirrorLegacy(c candidate) {
	aggregate := models.ResultRecord{
		Student: c.row.Student,
		Result:  models.Verdict(c.row.Result),
		Comment: c.row.Comment,
		Date:    a.now().Format(models.DateLayout),
	}

	content, err := json.MarshalIndent(aggregate, "", "  ")
	if err != nil {
		a.logger.Error().Err(err).Str("owner", c.ownerDir).Msg("legacy mirror encode failed")
		return
	}
	if err := os.WriteFile(filepath.Join(c.ownerDir, legacyFileName), content, 0o644); err != nil {
		a.logger.Error().Err(err).Str("owner", c.ownerDir).Msg("legacy mirror write failed")
	}
}

func writeReport(path string, rows []models.AggregatedRow) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"87CEEB"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return fmt.Errorf("report header style: %w", err)
	}
	wrapStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true},
	})
	if err != nil {
		return fmt.Errorf("report cell style: %w", err)
	}

	for i, header := range reportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("report header: %w", err)
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(sheet, col, col, float64(len([]rune(header))+2)); err != nil {
			return fmt.Errorf("report column width: %w", err)
		}
	}
	if err := f.SetCellStyle(sheet, "A1", "F1", headerStyle); err != nil {
		return fmt.Errorf("report header style apply: %w", err)
	}

	for i, row := range rows {
		values := []string{row.Student, row.Result, row.AuthorshipStatus, row.AuthorshipDetail, row.Comment, row.SourcePath}
		for j, value := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("report cell: %w", err)
			}
		}
	}
	if len(rows) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(reportColumns), len(rows)+1)
		if err := f.SetCellStyle(sheet, "A2", last, wrapStyle); err != nil {
			return fmt.Errorf("report cell style apply: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
