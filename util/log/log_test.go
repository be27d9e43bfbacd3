// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package waLog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologLevels(t *testing.T) {
	var buf bytes.Buffer
	log := Zerolog(zerolog.New(&buf).Level(zerolog.InfoLevel))

	log.Debugf("hidden %d", 1)
	log.Infof("visible %d", 2)
	log.Warnf("warned")
	log.Errorf("failed: %v", "boom")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("debug line should have been filtered at info level")
	}
	for _, want := range []string{"visible 2", "warned", "failed: boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestZerologSub(t *testing.T) {
	var buf bytes.Buffer
	log := Zerolog(zerolog.New(&buf))

	log.Sub("Resolver").Infof("resolving")
	if !strings.Contains(buf.String(), `"component":"Resolver"`) {
		t.Fatalf("expected component field in output, got %q", buf.String())
	}
}

func TestNoop(t *testing.T) {
	// Must not panic and must swallow everything.
	Noop.Sub("X").Errorf("dropped %v", 1)
}
