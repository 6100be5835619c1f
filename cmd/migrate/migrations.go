package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is a single migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// Migration files are named 0001_name.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// parseFilename extracts version and name, reporting false for files that
// do not follow the naming scheme.
func parseFilename(name string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(name)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// checksum hashes the file as written, before placeholders are replaced, so
// the same migration applied to another dataset keeps its checksum.
func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// readMigrations loads dir's migrations sorted by version, substituting
// placeholders in the SQL.
func readMigrations(dir string, placeholders map[string]string) ([]Migration, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Running from cmd/migrate.
		alt := filepath.Join("..", "..", dir)
		if _, err := os.Stat(alt); err != nil {
			return nil, fmt.Errorf("migrations directory not found: %s", dir)
		}
		dir = alt
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	pairs := make([]string, 0, 2*len(placeholders))
	for k, v := range placeholders {
		pairs = append(pairs, k, v)
	}
	replacer := strings.NewReplacer(pairs...)

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		version, name, ok := parseFilename(file.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      replacer.Replace(string(content)),
			Checksum: checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}
