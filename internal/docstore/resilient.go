package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// chromem names collection directories by an 8 hex char hash prefix.
var collectionDirPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

const quarantineDir = ".quarantine"

// openResilientDB opens a persistent chromem DB. Collections whose metadata
// file is missing would make every open fail; they are moved aside into
// .quarantine and the open is retried.
func openResilientDB(path string, compress bool, logger *zap.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(path, logger)
	if findErr != nil {
		logger.Error("failed to scan for corrupt collections", zap.Error(findErr))
		return nil, err
	}
	if len(corrupt) == 0 {
		return nil, err
	}

	qpath := filepath.Join(path, quarantineDir)
	if mkErr := os.MkdirAll(qpath, 0o755); mkErr != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", mkErr)
	}
	moved := 0
	for _, dir := range corrupt {
		if !collectionDirPattern.MatchString(dir) {
			continue
		}
		if mvErr := os.Rename(filepath.Join(path, dir), filepath.Join(qpath, dir)); mvErr != nil {
			logger.Error("failed to quarantine collection", zap.String("dir", dir), zap.Error(mvErr))
			quarantineOps.WithLabelValues("error").Inc()
			continue
		}
		quarantineOps.WithLabelValues("success").Inc()
		moved++
		logger.Warn("quarantined corrupt collection", zap.String("dir", dir), zap.String("to", qpath))
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("opening after quarantine: %w", err)
	}
	logger.Info("opened collection store after quarantine", zap.Int("quarantined", moved))
	return db, nil
}

func hasMetadataFile(dir string) bool {
	for _, name := range []string{"00000000.gob", "00000000.gob.gz"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// findCorruptCollections lists collection directories that hold document
// files but no 00000000.gob metadata.
func findCorruptCollections(path string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if hasMetadataFile(dir) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("failed to read collection directory", zap.String("dir", entry.Name()), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && (strings.HasSuffix(f.Name(), ".gob") || strings.HasSuffix(f.Name(), ".gob.gz")) {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}
