package summary

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/edulab/autochecker/internal/models"
)

func newTestAggregator() *Aggregator {
	return NewAggregator(zerolog.New(io.Discard))
}

func writeResult(t *testing.T, root, folder, fileName string, record models.ResultRecord) string {
	t.Helper()
	dir := filepath.Join(root, folder, "results")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	content, err := json.MarshalIndent(record, "", "  ")
	require.NoError(t, err)

	path := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestAggregatePassBeatsFail(t *testing.T) {
	root := t.TempDir()

	writeResult(t, root, "Иванов Иван_12345_assignsubmission_file", "эссе.docx.json", models.ResultRecord{
		Student: "Иванов Иван_12345_assignsubmission_file",
		Result:  models.VerdictPass,
		Comment: "Засчитано по основному файлу",
		Date:    "2024-05-01 10:00:00",
	})
	writeResult(t, root, "Иванов Иван_12345_assignsubmission_onlinetext", "onlinetext.html.json", models.ResultRecord{
		Student: "Иванов Иван_12345_assignsubmission_onlinetext",
		Result:  models.VerdictFail,
		Comment: "Онлайн-текст пуст",
		Date:    "2024-05-02 10:00:00",
	})

	rows, reportPath, err := newTestAggregator().Aggregate(root)
	require.NoError(t, err)
	require.Len(t, rows, 1, "same moodle id merges into one row")
	require.Equal(t, string(models.VerdictPass), rows[0].Result)
	require.Equal(t, "Засчитано по основному файлу", rows[0].Comment)
	require.FileExists(t, reportPath)
}

func TestAggregateNewerWinsAmongEqualResults(t *testing.T) {
	root := t.TempDir()
	folder := "Петров Пётр_20002_assignsubmission_file"

	writeResult(t, root, folder, "старая.docx.json", models.ResultRecord{
		Student: folder,
		Result:  models.VerdictFail,
		Comment: "Первая попытка",
		Date:    "2024-05-01 09:00:00",
	})
	writeResult(t, root, folder, "новая.docx.json", models.ResultRecord{
		Student: folder,
		Result:  models.VerdictFail,
		Comment: "Вторая попытка",
		Date:    "2024-05-03 09:00:00",
	})

	rows, _, err := newTestAggregator().Aggregate(root)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Вторая попытка", rows[0].Comment)
}

func TestAggregateLongerCommentBreaksTimestampTie(t *testing.T) {
	root := t.TempDir()
	folder := "Сидорова Анна_20003_assignsubmission_file"
	date := "2024-05-01 12:00:00"

	writeResult(t, root, folder, "a.docx.json", models.ResultRecord{
		Student: folder, Result: models.VerdictPass, Comment: "Коротко", Date: date,
	})
	writeResult(t, root, folder, "b.docx.json", models.ResultRecord{
		Student: folder, Result: models.VerdictPass, Comment: "Заметно более развёрнутый комментарий", Date: date,
	})

	rows, _, err := newTestAggregator().Aggregate(root)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Заметно более развёрнутый комментарий", rows[0].Comment)
}

func TestAggregateSortsRowsByStudent(t *testing.T) {
	root := t.TempDir()

	for _, folder := range []string{
		"Яковлев Юрий_30001_assignsubmission_file",
		"Антонова Вера_30002_assignsubmission_file",
	} {
		writeResult(t, root, folder, "работа.docx.json", models.ResultRecord{
			Student: folder, Result: models.VerdictPass, Date: "2024-05-01 10:00:00",
		})
	}

	rows, _, err := newTestAggregator().Aggregate(root)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Антонова Вера_30002_assignsubmission_file", rows[0].Student)
	require.Equal(t, "Яковлев Юрий_30001_assignsubmission_file", rows[1].Student)
}

func TestAggregateAuthorshipColumns(t *testing.T) {
	root := t.TempDir()

	writeResult(t, root, "Один_40001_assignsubmission_file", "р.docx.json", models.ResultRecord{
		Student: "Один_40001_assignsubmission_file",
		Result:  models.VerdictFail,
		Date:    "2024-05-01 10:00:00",
		Authorship: &models.AuthorshipCheck{
			Detected:   true,
			Confidence: models.ConfidenceHigh,
			Comment:    "Стиль машинный",
		},
	})
	writeResult(t, root, "Два_40002_assignsubmission_file", "р.docx.json", models.ResultRecord{
		Student:    "Два_40002_assignsubmission_file",
		Result:     models.VerdictPass,
		Date:       "2024-05-01 10:00:00",
		Authorship: &models.AuthorshipCheck{Detected: false},
	})
	writeResult(t, root, "Три_40003_assignsubmission_file", "р.docx.json", models.ResultRecord{
		Student: "Три_40003_assignsubmission_file",
		Result:  models.VerdictPass,
		Date:    "2024-05-01 10:00:00",
	})

	rows, _, err := newTestAggregator().Aggregate(root)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	byStudent := map[string]models.AggregatedRow{}
	for _, row := range rows {
		byStudent[row.Student] = row
	}

	detected := byStudent["Один_40001_assignsubmission_file"]
	require.Equal(t, "Да (высокая)", detected.AuthorshipStatus)
	require.Equal(t, "Стиль машинный", detected.AuthorshipDetail)

	clean := byStudent["Два_40002_assignsubmission_file"]
	require.Equal(t, statusNo, clean.AuthorshipStatus)
	require.Equal(t, detailNotDetected, clean.AuthorshipDetail)

	unchecked := byStudent["Три_40003_assignsubmission_file"]
	require.Equal(t, statusNotChecked, unchecked.AuthorshipStatus)
	require.Equal(t, detailNotChecked, unchecked.AuthorshipDetail)
}

func TestAggregateScrapesLegacyTextRecord(t *testing.T) {
	root := t.TempDir()
	folder := "Старый Формат_50001_assignsubmission_file"
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	legacy := "РЕЗУЛЬТАТ: зачтено\nКОММЕНТАРИЙ: Проверено вручную ранее.\n\nСлужебная строка."
	require.NoError(t, os.WriteFile(filepath.Join(dir, legacyFileName), []byte(legacy), 0o644))

	rows, _, err := newTestAggregator().Aggregate(root)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "зачтено", rows[0].Result)
	require.Equal(t, "Проверено вручную ранее.", rows[0].Comment)
	require.Equal(t, detailLegacyRecord, rows[0].AuthorshipDetail)
}

func TestAggregateMirrorsWinnerToLegacyFile(t *testing.T) {
	root := t.TempDir()
	folder := "Зеркало_60001_assignsubmission_file"

	writeResult(t, root, folder, "р.docx.json", models.ResultRecord{
		Student: folder,
		Result:  models.VerdictPass,
		Comment: "Итог",
		Date:    "2024-05-01 10:00:00",
	})

	_, _, err := newTestAggregator().Aggregate(root)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(root, folder, legacyFileName))
	require.NoError(t, err)

	var mirrored models.ResultRecord
	require.NoError(t, json.Unmarshal(content, &mirrored))
	require.Equal(t, models.VerdictPass, mirrored.Result)
	require.Equal(t, "Итог", mirrored.Comment)
}

func TestAggregateReportLayout(t *testing.T) {
	root := t.TempDir()
	folder := "Отчётный Студент_70001_assignsubmission_file"

	writeResult(t, root, folder, "р.docx.json", models.ResultRecord{
		Student: folder,
		Result:  models.VerdictFail,
		Comment: "Нет выводов",
		Date:    "2024-05-01 10:00:00",
	})

	rows, reportPath, err := newTestAggregator().Aggregate(root)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, filepath.Join(root, "Итоговая_ведомость_"+filepath.Base(root)+".xlsx"), reportPath)

	f, err := excelize.OpenFile(reportPath)
	require.NoError(t, err)
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, header := range reportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		value, err := f.GetCellValue(sheet, cell)
		require.NoError(t, err)
		require.Equal(t, header, value)
	}

	student, err := f.GetCellValue(sheet, "A2")
	require.NoError(t, err)
	require.Equal(t, folder, student)

	result, err := f.GetCellValue(sheet, "B2")
	require.NoError(t, err)
	require.Equal(t, string(models.VerdictFail), result)
}

func TestDedupKeyChain(t *testing.T) {
	require.Equal(t, "12345", dedupKey("Иванов Иван_12345_assignsubmission_file", ""))
	require.Equal(t, "s777", dedupKey("Петров, ID: s777", ""))
	require.Equal(t, "ab12", dedupKey("Сидоров [id=ab12]", ""))
	require.Equal(t, "999", dedupKey("просто имя", "Кто-то_999_assignsubmission_file"))
	require.Equal(t, "просто имя", dedupKey("Просто Имя ", ""))
}
