package yaml

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	yamlv3 "gopkg.in/yaml.v3"
)

// Quarantine moves a corrupted or unprocessable file into <dir>/quarantine
// with a timestamped name, so intake and recovery never wedge on one bad file.
func Quarantine(dir, filePath string) error {
	quarantineDir := filepath.Join(dir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	quarantineName := fmt.Sprintf("%s.%s.corrupt", baseName, timestamp)
	quarantinePath := filepath.Join(quarantineDir, quarantineName)

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}

	log.Warn().Str("from", filePath).Str("to", quarantinePath).Msg("file_quarantined")
	return nil
}

func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	if _, err := os.Stat(bakPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}

	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	// Validate backup is valid YAML
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Info().Str("backup", bakPath).Str("path", filePath).Msg("restored_from_backup")
	return nil
}

func GenerateSkeleton(filePath string, fileType string) error {
	skeleton := generateSkeletonForType(fileType)
	content, err := yamlv3.Marshal(skeleton)
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}

	log.Info().Str("path", filePath).Str("file_type", fileType).Msg("skeleton_generated")
	return nil
}

// RecoverCorruptedFile quarantines the broken file, then restores from .bak,
// falling back to an empty skeleton. Committed history survives whenever a
// valid backup exists; at most the in-flight mutation is lost.
func RecoverCorruptedFile(dir, filePath, fileType string) error {
	// Step 1: Quarantine the corrupted file
	if err := Quarantine(dir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}

	// Step 2: Try to restore from .bak
	if err := RestoreFromBackup(filePath); err != nil {
		log.Warn().Str("path", filePath).Err(err).Msg("backup_restore_failed_generating_skeleton")
	} else {
		return nil
	}

	// Step 3: Generate minimal skeleton
	if err := GenerateSkeleton(filePath, fileType); err != nil {
		return fmt.Errorf("skeleton generation failed: %w", err)
	}

	return nil
}

func generateSkeletonForType(fileType string) any {
	switch fileType {
	case "queue_task":
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      "queue_task",
			"tasks":          []any{},
		}
	case "status_snapshot":
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      "status_snapshot",
			"state":          map[string]any{},
			"updated_at":     nil,
		}
	default:
		return map[string]any{
			"schema_version": CurrentSchemaVersion,
			"file_type":      fileType,
		}
	}
}
