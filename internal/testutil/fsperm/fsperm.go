// Package fsperm asserts that secret-bearing files and their directories are
// readable by the owner only. Checks are skipped on Windows, where mode bits
// do not reflect ACLs.
package fsperm

import (
	"io/fs"
	"os"
	"runtime"
	"testing"
)

const (
	PrivateDirPerm  fs.FileMode = 0o700
	PrivateFilePerm fs.FileMode = 0o600
)

func AssertPrivateDirPerm(t testing.TB, dir string) {
	t.Helper()
	assertPerm(t, dir, true, PrivateDirPerm)
}

// AssertPrivateFilePerm checks an encrypted secret file and its parent.
func AssertPrivateFilePerm(t testing.TB, path string) {
	t.Helper()
	assertPerm(t, path, false, PrivateFilePerm)
}

func assertPerm(t testing.TB, path string, wantDir bool, want fs.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s failed: %v", path, err)
	}
	if info.IsDir() != wantDir {
		t.Fatalf("unexpected kind for %s: dir=%v", path, info.IsDir())
	}
	if runtime.GOOS == "windows" {
		return
	}
	if perm := info.Mode().Perm(); perm != want {
		t.Fatalf("expected perm %04o, got %04o for %s", want, perm, path)
	}
}
