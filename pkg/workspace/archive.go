package workspace

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Archive writes a gzip-compressed tar of the tree at tag to out. Entries
// are rooted at the repository top level, carry the commit time, and keep
// executable bits and symlinks. The working tree is not touched.
func (w *Workspace) Archive(tag string, out io.Writer) error {
	commit, err := w.commitForTag(tag)
	if err != nil {
		return err
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("read tree for %s: %w", tag, err)
	}

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = tree.Files().ForEach(func(f *object.File) error {
		return writeEntry(tw, f, commit)
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", tag, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive %s: %w", tag, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archive %s: %w", tag, err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, f *object.File, commit *object.Commit) error {
	hdr := &tar.Header{
		Name:    f.Name,
		ModTime: commit.Committer.When,
		Format:  tar.FormatPAX,
	}

	switch f.Mode {
	case filemode.Symlink:
		target, err := f.Contents()
		if err != nil {
			return err
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		hdr.Mode = 0o777
		return tw.WriteHeader(hdr)
	case filemode.Submodule:
		return nil
	case filemode.Executable:
		hdr.Mode = 0o755
	default:
		hdr.Mode = 0o644
	}

	hdr.Typeflag = tar.TypeReg
	hdr.Size = f.Size
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	r, err := f.Reader()
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(tw, r)
	return err
}
