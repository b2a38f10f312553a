// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

var signature = object.Signature{Name: "Test", Email: "test@example.com"}

// Repo is a non-bare repository usable as a clone source.
type Repo struct {
	t    testing.TB
	Dir  string
	repo *gogit.Repository
}

// NewRepo initializes an empty repository on branch main.
func NewRepo(t testing.TB) *Repo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: "refs/heads/main",
		},
	})
	require.NoError(t, err)
	return &Repo{t: t, Dir: dir, repo: repo}
}

// NewBareRepo initializes an empty bare repository and returns its path.
func NewBareRepo(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	_, err := gogit.PlainInit(dir, true)
	require.NoError(t, err)
	return dir
}

// WriteFile writes content to a path relative to the repository root.
func (r *Repo) WriteFile(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.Dir, path)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
}

// Remove deletes a path relative to the repository root.
func (r *Repo) Remove(path string) {
	r.t.Helper()
	require.NoError(r.t, os.RemoveAll(filepath.Join(r.Dir, path)))
}

// WriteManifest writes m as the xel.json manifest.
func (r *Repo) WriteManifest(m map[string]any) {
	r.t.Helper()
	data, err := json.MarshalIndent(m, "", "  ")
	require.NoError(r.t, err)
	r.WriteFile("xel.json", string(data))
}

// Commit stages every change and commits it.
func (r *Repo) Commit(msg string) plumbing.Hash {
	r.t.Helper()
	w, err := r.repo.Worktree()
	require.NoError(r.t, err)
	require.NoError(r.t, w.AddWithOptions(&gogit.AddOptions{All: true}))
	sig := signature
	sig.When = time.Now()
	hash, err := w.Commit(msg, &gogit.CommitOptions{Author: &sig, AllowEmptyCommits: true})
	require.NoError(r.t, err)
	return hash
}

// Tag creates a lightweight tag at HEAD.
func (r *Repo) Tag(name string) {
	r.t.Helper()
	head, err := r.repo.Head()
	require.NoError(r.t, err)
	_, err = r.repo.CreateTag(name, head.Hash(), nil)
	require.NoError(r.t, err)
}

// AnnotatedTag creates an annotated tag at HEAD.
func (r *Repo) AnnotatedTag(name, msg string) {
	r.t.Helper()
	head, err := r.repo.Head()
	require.NoError(r.t, err)
	sig := signature
	sig.When = time.Now()
	_, err = r.repo.CreateTag(name, head.Hash(), &gogit.CreateTagOptions{Tagger: &sig, Message: msg})
	require.NoError(r.t, err)
}

// Release writes a manifest for version with a main file, commits and tags
// it. Extra keys in fields override the defaults.
func (r *Repo) Release(tag, name, version string, fields map[string]any) {
	r.t.Helper()
	m := map[string]any{
		"name":        name,
		"version":     version,
		"description": "release " + version,
		"author":      "tester",
		"license":     "MIT",
		"main":        "main.xel",
	}
	for k, v := range fields {
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	r.WriteManifest(m)
	r.WriteFile("main.xel", "print(\""+version+"\")\n")
	r.Commit("release " + version)
	r.Tag(tag)
}

// Branch creates a branch at HEAD.
func (r *Repo) Branch(name string) {
	r.t.Helper()
	head, err := r.repo.Head()
	require.NoError(r.t, err)
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), head.Hash())
	require.NoError(r.t, r.repo.Storer.SetReference(ref))
}

// Refs lists the reference names of the repository at dir.
func Refs(t testing.TB, dir string) []string {
	t.Helper()
	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err)
	iter, err := repo.References()
	require.NoError(t, err)
	var names []string
	require.NoError(t, iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().String())
		return nil
	}))
	return names
}
