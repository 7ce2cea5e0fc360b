package reportstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/ethpandaops/pageaudit/pkg/fsutil"
)

// RunDir returns {reports_dir}/{runId}.
func (s *store) RunDir(runID audit.RunID) string {
	return filepath.Join(s.cfg.ReportsDir, runID.String())
}

// WriteRawReport writes the report atomically so a concurrent reader never
// sees a truncated file.
func (s *store) WriteRawReport(
	ctx context.Context, runID audit.RunID, filename string, content []byte,
) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errkind.New(errkind.Storage, "write raw report", err)
	}

	if err := validateFilename(filename); err != nil {
		return "", errkind.New(errkind.Storage, "write raw report", err)
	}

	dir := s.RunDir(runID)
	if err := fsutil.MkdirAll(dir, 0o755, s.owner); err != nil {
		return "", errkind.New(errkind.Storage, "create run directory", err)
	}

	path := filepath.Join(dir, filename)
	if err := fsutil.WriteFileAtomic(path, content, 0o644, s.owner); err != nil {
		return "", errkind.New(errkind.Storage, "write raw report", err)
	}

	return path, nil
}

// ReadRawReport reads a raw report back for the detail view.
func (s *store) ReadRawReport(ctx context.Context, runID audit.RunID, filename string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errkind.New(errkind.Storage, "read raw report", err)
	}

	if err := validateFilename(filename); err != nil {
		return nil, errkind.New(errkind.Storage, "read raw report", err)
	}

	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errkind.New(errkind.Storage, "read raw report",
				fmt.Errorf("%w: %s/%s", ErrReportNotFound, runID, filename))
		}

		return nil, errkind.New(errkind.Storage, "read raw report", err)
	}

	return data, nil
}

// validateFilename rejects anything that is not a plain .json file name.
func validateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid report filename %q", name)
	case strings.ContainsAny(name, `/\`), filepath.Base(name) != name:
		return fmt.Errorf("report filename %q must not contain path separators", name)
	case !strings.HasSuffix(name, ".json"):
		return fmt.Errorf("report filename %q must end in .json", name)
	default:
		return nil
	}
}
