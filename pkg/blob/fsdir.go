package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/ctfer-io/ctfd-deploy/pkg/errs"
)

// FSDir serves objects from a directory tree, one subdirectory per
// bucket. Used by the webhook mode against self-hosted stores that
// mount the bucket locally, and by tests.
type FSDir struct {
	fs   afero.Fs
	root string
}

var _ Store = (*FSDir)(nil)

func NewFSDir(fs afero.Fs, root string) *FSDir {
	return &FSDir{fs: fs, root: root}
}

func (s *FSDir) Get(_ context.Context, bucket, key string) ([]byte, error) {
	// Bucket and key come straight from the notification, which in
	// webhook mode is an unauthenticated request body. Anything that
	// walks out of the bucket directory is treated as absent.
	if escapes(bucket) || escapes(filepath.FromSlash(key)) {
		return nil, &errs.ErrObjectUnavailable{Bucket: bucket, Key: key, Sub: errors.New("path escapes the bucket directory")}
	}
	path := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	b, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return nil, &errs.ErrObjectUnavailable{Bucket: bucket, Key: key, Sub: err}
		}
		return nil, errors.Wrap(err, "reading object file")
	}
	return b, nil
}

func escapes(rel string) bool {
	rel = filepath.Clean(rel)
	return filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
