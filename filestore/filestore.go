// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package filestore writes downloaded media into the per-tenant storage
// hierarchy. The directory layout is a de facto contract: the CRUD/UI layer
// recomputes the same path from (tenant, instance, chat, message), so changing
// the formula is a breaking change.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mau.fi/util/exmime"
	"go.mau.fi/util/random"

	"go.mau.fi/waingest/types"
	waLog "go.mau.fi/waingest/util/log"
)

// shortMessageIDLen caps the message ID portion of file names.
const shortMessageIDLen = 16

// Extensions for mimetypes the gateway sends routinely. Everything else goes
// through exmime; unknown types fall back to .bin.
var wellKnownExtensions = map[string]string{
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"application/pdf": ".pdf",
}

// Store writes media files under a fixed root directory.
type Store struct {
	root string
	log  waLog.Logger
}

func NewStore(root string, log waLog.Logger) *Store {
	if log == nil {
		log = waLog.Noop
	}
	return &Store{root: root, log: log}
}

// Root returns the storage root directory.
func (fs *Store) Root() string {
	return fs.root
}

// Path computes the canonical location for one media file:
//
//	<root>/<tenant storage root>/instance_<instance id>/chats/<chat key>/<content type>/msg_<short id>_<unix ts>.<ext>
//
// The instance ID and chat key come from webhook payloads (a flagged chat key
// is the raw provider identifier), so both are reduced to a single safe path
// component. Nothing under the root is reachable via separators or dot
// segments smuggled into an identifier.
func (fs *Store) Path(tenant *types.Tenant, instanceID, chatKey string, contentType types.ContentType, messageID string, ts time.Time, mimetype string) string {
	name := fmt.Sprintf("msg_%s_%d%s", shortMessageID(messageID), ts.Unix(), ExtensionFromMimetype(mimetype))
	return filepath.Join(fs.root, tenant.StorageRootName, "instance_"+sanitizePathComponent(instanceID), "chats", sanitizePathComponent(chatKey), string(contentType), name)
}

// sanitizePathComponent maps an untrusted identifier to a single directory
// name: alphanumerics, '-' and '_' pass through, everything else (including
// '/', '\' and '.') becomes '-'.
func sanitizePathComponent(part string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, part)
	if strings.Trim(cleaned, "-_") == "" {
		return "unknown"
	}
	return cleaned
}

// Write streams data to the canonical path atomically: the bytes go to a
// temporary name in the same directory first and are renamed into place, so a
// half-written file is never observable under the final name. Returns the final
// path and the byte count.
func (fs *Store) Write(tenant *types.Tenant, instanceID, chatKey string, contentType types.ContentType, messageID string, ts time.Time, mimetype string, data io.Reader) (string, int64, error) {
	finalPath := fs.Path(tenant, instanceID, chatKey, contentType, messageID, ts, mimetype)
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create media directory: %w", err)
	}

	tmpPath := filepath.Join(dir, "."+filepath.Base(finalPath)+".tmp-"+random.String(8))
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	size, err := io.Copy(file, data)
	if err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to write media data: %w", err)
	}
	if err = file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err = os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to move media file into place: %w", err)
	}
	fs.log.Debugf("Wrote %d bytes to %s", size, finalPath)
	return finalPath, size, nil
}

// Probe verifies the storage root is writable by creating and removing a probe
// file. Used by the health checker.
func (fs *Store) Probe() error {
	if err := os.MkdirAll(fs.root, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(fs.root, ".probe-"+random.String(8))
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// ExtensionFromMimetype returns the file extension (with leading dot) for a
// declared mimetype, ignoring parameters like codecs.
func ExtensionFromMimetype(mimetype string) string {
	base := strings.TrimSpace(mimetype)
	if idx := strings.IndexByte(base, ';'); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	if ext, ok := wellKnownExtensions[strings.ToLower(base)]; ok {
		return ext
	}
	if ext := exmime.ExtensionFromMimetype(base); ext != "" {
		return ext
	}
	return ".bin"
}

func shortMessageID(messageID string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, messageID)
	if len(id) > shortMessageIDLen {
		id = id[:shortMessageIDLen]
	}
	if id == "" {
		id = "unknown"
	}
	return id
}
