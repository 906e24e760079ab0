package matcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"flatbatch/logger"
)

// errStopWalk ends a walk early when the consumer of a sequence stops ranging.
var errStopWalk = errors.New("stop walk")

// stackWalker walks depth-first with an explicit stack instead of recursion.
// Sibling order follows the reverse of os.ReadDir, so callers must not rely
// on the walk being sorted.
type stackWalker struct{}

func (w stackWalker) Walk(ctx context.Context, startPath string, fn fs.WalkDirFunc) error {
	info, err := os.Stat(startPath)
	if err != nil {
		return fn(startPath, nil, err)
	}
	root := fs.FileInfoToDirEntry(info)
	type item struct {
		path  string
		entry fs.DirEntry
	}
	stack := []item{{path: startPath, entry: root}}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := fn(current.path, current.entry, nil); err != nil {
			if err == fs.SkipDir {
				continue
			}
			return err
		}
		if !current.entry.IsDir() {
			continue
		}

		entries, err := os.ReadDir(current.path)
		if err != nil {
			if ferr := fn(current.path, current.entry, err); ferr != nil && ferr != fs.SkipDir {
				return ferr
			}
			continue
		}
		for i := range entries {
			child := entries[i]
			stack = append(stack, item{
				path:  filepath.Join(current.path, child.Name()),
				entry: child,
			})
		}
	}
	return nil
}

// walkFiles calls yield for every non-directory entry under root and stops
// as soon as yield returns false.
func walkFiles(ctx context.Context, root string, yield func(string) bool) {
	err := stackWalker{}.Walk(ctx, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warnf("Failed to access %s: %v", path, err)
			return nil
		}
		if d == nil || d.IsDir() {
			return nil
		}
		if !yield(path) {
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		logger.Warnf("Error walking path %s: %v", root, err)
	}
}
