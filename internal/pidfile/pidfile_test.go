// Copyright 2025 The Workflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflowd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, lock.Path())

	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, lock.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "pid file should be removed on release")
}

func TestAcquireConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflowd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	// flock treats separately opened descriptors as independent even
	// within one process, so this exercises the real contention path.
	_, err = Acquire(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunning))
	assert.Contains(t, err.Error(), fmt.Sprintf("pid %d", os.Getpid()))

	require.NoError(t, lock.Release())

	lock2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestAcquireTakesOverStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflowd.pid")

	// A crashed daemon leaves the file behind with no lock held.
	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0o644))

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "nested", "workflowd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	defer lock.Release()

	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRejectsWorldWritableDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o777))

	_, err := Acquire(filepath.Join(dir, "workflowd.pid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "world-writable")
}

func TestAcquireAllowsStickyDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, os.ModeSticky|0o777))

	lock, err := Acquire(filepath.Join(dir, "workflowd.pid"))
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireEmptyPath(t *testing.T) {
	_, err := Acquire("")
	require.Error(t, err)
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	tests := []struct {
		name    string
		path    string
		want    int
		wantErr bool
	}{
		{name: "valid", path: write("ok.pid", "1234\n"), want: 1234},
		{name: "surrounding whitespace", path: write("ws.pid", "  42  \n"), want: 42},
		{name: "garbage", path: write("bad.pid", "not-a-pid\n"), wantErr: true},
		{name: "negative", path: write("neg.pid", "-5\n"), wantErr: true},
		{name: "zero", path: write("zero.pid", "0\n"), wantErr: true},
		{name: "missing", path: filepath.Join(dir, "absent.pid"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := Read(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}
}

func TestReleaseNil(t *testing.T) {
	var lock *Lock
	require.NoError(t, lock.Release())
}

func TestReleaseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflowd.pid")

	lock, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
}
