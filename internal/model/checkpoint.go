package model

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/ml/context/checkpoints"

	"github.com/Synoon/w2v-did/internal/config"
)

// keepCheckpoints is how many checkpoint generations stay on disk
const keepCheckpoints = 3

// PrepareOutputDir enforces the output directory contract: a fresh run
// refuses a non-empty directory unless overwrite is allowed, a resumed run
// requires it to exist.
func PrepareOutputDir(cfg config.ModelConfig) error {
	entries, err := os.ReadDir(cfg.OutputDir)
	if os.IsNotExist(err) {
		if cfg.Resume {
			return fmt.Errorf("cannot resume: output dir %s does not exist", cfg.OutputDir)
		}
		return os.MkdirAll(cfg.OutputDir, 0755)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect output dir %s: %w", cfg.OutputDir, err)
	}

	if len(entries) > 0 && !cfg.Resume && !cfg.OverwriteOutput {
		return fmt.Errorf("output dir %s is not empty; enable overwrite_output or resume", cfg.OutputDir)
	}
	return nil
}

// AttachCheckpoints wires checkpointing to the output directory and loads
// the starting weights: the latest output checkpoint when resuming (or when
// one exists), otherwise the pretrained encoder checkpoint seeded into the
// output directory first. A directory holding neither is an error, so a
// run never scores or trains freshly initialized weights by accident.
func (m *Model) AttachCheckpoints() (*checkpoints.Handler, error) {
	if m.cfg.OutputDir == "" {
		return nil, fmt.Errorf("model output dir is not configured")
	}

	if !hasCheckpoint(m.cfg.OutputDir) {
		if m.cfg.Resume {
			return nil, fmt.Errorf("cannot resume: no checkpoint under %s", m.cfg.OutputDir)
		}
		if m.cfg.PretrainedDir == "" {
			return nil, fmt.Errorf("no checkpoint under %s and no pretrained_dir to initialize from", m.cfg.OutputDir)
		}
		if err := seedFromPretrained(m.cfg.PretrainedDir, m.cfg.OutputDir); err != nil {
			return nil, err
		}
		if m.logger != nil {
			m.logger.Info("Initialized weights from pretrained checkpoint",
				slog.String("pretrained_dir", m.cfg.PretrainedDir),
			)
		}
	}

	handler, err := checkpoints.Build(m.ctx).
		Dir(filepath.Join(m.cfg.OutputDir, "checkpoints")).
		Keep(keepCheckpoints).
		Done()
	if err != nil {
		return nil, fmt.Errorf("failed to attach checkpoints under %s: %w", m.cfg.OutputDir, err)
	}
	return handler, nil
}

// hasCheckpoint reports whether dir already holds saved checkpoints
func hasCheckpoint(dir string) bool {
	entries, err := os.ReadDir(filepath.Join(dir, "checkpoints"))
	return err == nil && len(entries) > 0
}

// seedFromPretrained copies the pretrained checkpoint files into the output
// directory, so the handler attached there picks them up as the starting
// point and later generations rotate independently of the pretrained copy.
func seedFromPretrained(pretrainedDir, outputDir string) error {
	src := filepath.Join(pretrainedDir, "checkpoints")
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("pretrained dir %s has no checkpoints: %w", pretrainedDir, err)
	}
	dst := filepath.Join(outputDir, "checkpoints")
	if err := copyDir(src, dst); err != nil {
		return fmt.Errorf("failed to seed pretrained weights: %w", err)
	}
	return nil
}

// copyDir copies a directory tree of regular files
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
