// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.mau.fi/waingest/types"
)

func testTenant() *types.Tenant {
	return &types.Tenant{Name: "Acme Corp", StorageRootName: "acme_corp"}
}

func TestPathLayout(t *testing.T) {
	fs := NewStore("/data/media", nil)
	ts := time.Unix(1700000000, 0)
	path := fs.Path(testTenant(), "inst01", "556999211347", types.ContentAudio, "3EB0FA5D2C9A", ts, "audio/ogg; codecs=opus")
	expected := filepath.Join(
		"/data/media", "acme_corp", "instance_inst01", "chats", "556999211347", "audio",
		fmt.Sprintf("msg_3EB0FA5D2C9A_%d.ogg", ts.Unix()),
	)
	require.Equal(t, expected, path)
}

func TestWriteAtomic(t *testing.T) {
	root := t.TempDir()
	fs := NewStore(root, nil)
	ts := time.Now()

	path, size, err := fs.Write(testTenant(), "inst01", "556999211347", types.ContentImage, "ABCDEF123456", ts, "image/jpeg", strings.NewReader("fake jpeg bytes"))
	require.NoError(t, err)
	require.Equal(t, int64(len("fake jpeg bytes")), size)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "fake jpeg bytes", string(data))

	// No temporary files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Writing again into the same directory must not fail (idempotent mkdir).
	_, _, err = fs.Write(testTenant(), "inst01", "556999211347", types.ContentImage, "ABCDEF123457", ts, "image/jpeg", strings.NewReader("more"))
	require.NoError(t, err)
}

func TestPathConfinement(t *testing.T) {
	root := t.TempDir()
	fs := NewStore(root, nil)
	ts := time.Unix(1700000000, 0)

	// Raw flagged identifiers with separators or dot segments must collapse to
	// a single directory under the root.
	for _, chatKey := range []string{
		"../../../../escaped",
		"..\\..\\escaped",
		"a/b/c",
		"...",
		"556999211347@weird",
	} {
		path := fs.Path(testTenant(), "inst01", chatKey, types.ContentAudio, "EVIL1234", ts, "audio/ogg")
		require.True(t, strings.HasPrefix(path, root+string(filepath.Separator)),
			"path %q escapes root for chat key %q", path, chatKey)
		chatDir := filepath.Join(root, "acme_corp", "instance_inst01", "chats")
		rel, err := filepath.Rel(chatDir, path)
		require.NoError(t, err)
		require.False(t, strings.HasPrefix(rel, ".."), "path %q escapes %q for chat key %q", path, chatDir, chatKey)
	}

	// Instance IDs are webhook-controlled too.
	path := fs.Path(testTenant(), "../../evil", "556999211347", types.ContentImage, "X", ts, "image/jpeg")
	require.NotContains(t, path, "..")

	// Writing through a hostile chat key stays inside the root.
	written, _, err := fs.Write(testTenant(), "inst01", "../../../../escaped", types.ContentAudio, "EVIL1234", ts, "audio/ogg", strings.NewReader("bytes"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(written, root+string(filepath.Separator)))
	_, err = os.Stat(written)
	require.NoError(t, err)
}

func TestSanitizePathComponent(t *testing.T) {
	require.Equal(t, "556999211347", sanitizePathComponent("556999211347"))
	require.Equal(t, "wa-instance-7", sanitizePathComponent("wa-instance-7"))
	require.Equal(t, "12345-weird", sanitizePathComponent("12345@weird"))
	require.Equal(t, "---------escaped", sanitizePathComponent("../../../escaped"))
	require.Equal(t, "unknown", sanitizePathComponent("../.."))
	require.Equal(t, "unknown", sanitizePathComponent(""))
}

func TestShortMessageID(t *testing.T) {
	require.Equal(t, "3EB0", shortMessageID("3EB0"))
	require.Equal(t, "unknown", shortMessageID(""))
	require.Equal(t, 16, len(shortMessageID("0123456789ABCDEF0123")))
	require.Equal(t, "a-b-c", shortMessageID("a/b@c"))
}

func TestExtensionFromMimetype(t *testing.T) {
	require.Equal(t, ".ogg", ExtensionFromMimetype("audio/ogg; codecs=opus"))
	require.Equal(t, ".jpg", ExtensionFromMimetype("image/jpeg"))
	require.Equal(t, ".bin", ExtensionFromMimetype(""))
	require.Equal(t, ".bin", ExtensionFromMimetype("application/x-never-seen"))
}

func TestProbe(t *testing.T) {
	root := t.TempDir()
	fs := NewStore(filepath.Join(root, "nested"), nil)
	require.NoError(t, fs.Probe())
	entries, err := os.ReadDir(filepath.Join(root, "nested"))
	require.NoError(t, err)
	require.Empty(t, entries)
}
