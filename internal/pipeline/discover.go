package pipeline

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/edulab/autochecker/internal/models"
)

// FindSubmissions walks the root directory and returns one descriptor per
// submission file found inside student folders. Word documents are matched by
// extension, online text only by the exact Moodle name, PDF case-insensitively.
func FindSubmissions(rootDir string) ([]models.SubmissionDescriptor, error) {
	var found []models.SubmissionDescriptor

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		dir := filepath.Dir(path)
		if filepath.Clean(dir) == filepath.Clean(rootDir) {
			return nil
		}

		name := d.Name()
		switch {
		case strings.HasSuffix(name, ".docx"):
			found = append(found, models.SubmissionDescriptor{OwnerDir: dir, FilePath: path, Kind: models.FileKindDocx})
		case strings.HasSuffix(name, ".doc"):
			found = append(found, models.SubmissionDescriptor{OwnerDir: dir, FilePath: path, Kind: models.FileKindDoc})
		case name == "onlinetext.html":
			found = append(found, models.SubmissionDescriptor{OwnerDir: dir, FilePath: path, Kind: models.FileKindHTML})
		case strings.HasSuffix(strings.ToLower(name), ".pdf"):
			found = append(found, models.SubmissionDescriptor{OwnerDir: dir, FilePath: path, Kind: models.FileKindPDF})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return found, nil
}
