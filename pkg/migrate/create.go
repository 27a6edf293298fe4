package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

const sqlTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes <dir>/<version>_<slug>.sql from the goose
// template. The version is the current UTC second, pushed past the newest
// file already in dir so two migrations created in the same second still sort.
func CreateSQLMigration(dir, name string) (string, error) {
	return createSQLMigration(dir, name, time.Now().UTC())
}

func createSQLMigration(dir, name string, now time.Time) (string, error) {
	if dir == "" || (dir == DefaultDir && !dirExists(dir)) {
		return "", errors.New("a migrations directory on disk is required")
	}
	slug := migrationSlug(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	latest, err := latestVersion(dir)
	if err != nil {
		return "", err
	}
	version := now.UTC().Truncate(time.Second)
	if !latest.IsZero() && !version.After(latest) {
		version = latest.Add(time.Second)
	}

	path := filepath.Join(dir, version.Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %q: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, sqlTemplate, slug); err != nil {
		return "", fmt.Errorf("write %q: %w", path, err)
	}
	return path, nil
}

// migrationSlug lowercases name and keeps [a-z0-9] runs joined by single underscores.
func migrationSlug(name string) string {
	var b strings.Builder
	gap := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if gap && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			gap = false
			continue
		}
		gap = true
	}
	return b.String()
}

func latestVersion(dir string) (time.Time, error) {
	entries, err := fs.ReadDir(os.DirFS(dir), ".")
	if err != nil {
		return time.Time{}, fmt.Errorf("read %q: %w", dir, err)
	}
	var latest time.Time
	for _, e := range entries {
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := time.Parse(versionLayout, m[1])
		if err == nil && v.After(latest) {
			latest = v
		}
	}
	return latest, nil
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
