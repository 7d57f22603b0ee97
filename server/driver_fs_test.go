package server

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestNewFSDriver_Validation(t *testing.T) {
	tests := []struct {
		name      string
		setupPath func(t *testing.T) string
		wantErr   bool
	}{
		{
			name: "valid directory",
			setupPath: func(t *testing.T) string {
				return t.TempDir()
			},
			wantErr: false,
		},
		{
			name: "non-existent path",
			setupPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			wantErr: true,
		},
		{
			name: "path is a file",
			setupPath: func(t *testing.T) string {
				f := filepath.Join(t.TempDir(), "file.txt")
				if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
					t.Fatal(err)
				}
				return f
			},
			wantErr: true,
		},
		{
			name: "symlink to directory",
			setupPath: func(t *testing.T) string {
				dir := t.TempDir()
				target := filepath.Join(dir, "target")
				if err := os.Mkdir(target, 0755); err != nil {
					t.Fatal(err)
				}
				link := filepath.Join(dir, "link")
				if err := os.Symlink(target, link); err != nil {
					t.Skipf("symlinks unsupported: %v", err)
				}
				return link
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewFSDriver(tt.setupPath(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFSDriver() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				d.Close()
			}
		})
	}
}

func newDriver(t *testing.T, options ...FSDriverOption) (*FSDriver, string) {
	t.Helper()
	root := t.TempDir()
	d, err := NewFSDriver(root, options...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d, root
}

func TestFSDriver_Confinement(t *testing.T) {
	d, root := newDriver(t)
	outside := t.TempDir()
	writeFile(t, outside, "secret.txt", "top secret")
	writeFile(t, root, "inside.txt", "ok")

	// ".." never climbs above the virtual root.
	info, err := d.Stat("/../../inside.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Name() != "inside.txt" {
		t.Errorf("Expected inside.txt, got %s", info.Name())
	}

	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "escape")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := d.OpenRead("/escape"); err == nil {
		t.Error("Expected symlink escaping the root to be rejected")
	}

	if _, err := d.Stat("relative.txt"); !errors.Is(err, os.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for a relative path, got %v", err)
	}
}

func TestFSDriver_ListAndStat(t *testing.T) {
	d, root := newDriver(t)
	writeFile(t, root, "a.txt", "aaa")
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	infos, err := d.List("/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "sub" {
		t.Errorf("Unexpected listing %v", names)
	}

	info, err := d.Stat("/a.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 3 || info.IsDir() {
		t.Errorf("Unexpected stat for a.txt: size=%d dir=%v", info.Size(), info.IsDir())
	}

	if _, err := d.Stat("/missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
	if _, err := d.List("/a.txt"); err == nil {
		t.Error("Expected error listing a file")
	}
}

func TestFSDriver_Directories(t *testing.T) {
	d, root := newDriver(t)

	if err := d.MakeDir("/dir"); err != nil {
		t.Fatalf("MakeDir: %v", err)
	}
	if err := d.MakeDir("/dir"); !errors.Is(err, os.ErrExist) {
		t.Errorf("Expected ErrExist, got %v", err)
	}

	writeFile(t, root, "file.txt", "x")
	if err := d.RemoveDir("/file.txt"); !errors.Is(err, errNotDirectory) {
		t.Errorf("Expected errNotDirectory, got %v", err)
	}
	if err := d.RemoveFile("/dir"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("Expected ErrPermission removing a directory as a file, got %v", err)
	}

	if err := d.RemoveDir("/dir"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dir")); !os.IsNotExist(err) {
		t.Error("Directory still exists")
	}
	if err := d.RemoveFile("/file.txt"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
}

func TestFSDriver_Rename(t *testing.T) {
	d, root := newDriver(t)
	writeFile(t, root, "old.txt", "content")

	if err := d.Rename("/old.txt", "/new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	assertFileContent(t, root, "new.txt", "content")

	err := d.Rename("/missing.txt", "/other.txt")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		t.Error("Rename error must not carry host paths")
	}

	if err := d.Rename("/", "/elsewhere"); !errors.Is(err, os.ErrPermission) {
		t.Errorf("Expected ErrPermission renaming the root, got %v", err)
	}
}

func TestFSDriver_ReadWrite(t *testing.T) {
	d, root := newDriver(t)

	w, err := d.OpenWrite("/file.txt", false)
	if err != nil {
		t.Fatalf("OpenWrite: %v", err)
	}
	io.WriteString(w, "hello")
	w.Close()

	w, err = d.OpenWrite("/file.txt", true)
	if err != nil {
		t.Fatalf("OpenWrite append: %v", err)
	}
	io.WriteString(w, " world")
	w.Close()
	assertFileContent(t, root, "file.txt", "hello world")

	w, err = d.OpenWrite("/file.txt", false)
	if err != nil {
		t.Fatalf("OpenWrite truncate: %v", err)
	}
	io.WriteString(w, "new")
	w.Close()
	assertFileContent(t, root, "file.txt", "new")

	r, err := d.OpenRead("/file.txt")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "new" {
		t.Errorf("Expected 'new', got %q", data)
	}

	if err := os.Mkdir(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := d.OpenRead("/dir"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist opening a directory, got %v", err)
	}
}

func TestFSDriver_Chmod(t *testing.T) {
	d, root := newDriver(t)
	writeFile(t, root, "file.txt", "x")

	if err := d.Chmod("/file.txt", 0600); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600, got %o", info.Mode().Perm())
	}

	if err := d.Chmod("/file.txt", 04755); !errors.Is(err, os.ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestFSDriver_ReadOnly(t *testing.T) {
	d, root := newDriver(t, WithReadOnly(true))
	writeFile(t, root, "file.txt", "x")
	if err := os.Mkdir(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}

	checks := map[string]error{
		"MakeDir":    d.MakeDir("/new"),
		"RemoveDir":  d.RemoveDir("/dir"),
		"RemoveFile": d.RemoveFile("/file.txt"),
		"Rename":     d.Rename("/file.txt", "/other.txt"),
		"Chmod":      d.Chmod("/file.txt", 0600),
	}
	_, err := d.OpenWrite("/file.txt", false)
	checks["OpenWrite"] = err

	for op, err := range checks {
		if !errors.Is(err, os.ErrPermission) {
			t.Errorf("%s: expected ErrPermission, got %v", op, err)
		}
	}

	r, err := d.OpenRead("/file.txt")
	if err != nil {
		t.Fatalf("OpenRead on read-only driver: %v", err)
	}
	r.Close()
}
