// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"context"
	"errors"
	"testing"
)

func TestExporterReceivesLogAndError(t *testing.T) {
	type captured struct {
		level   Level
		message string
		labels  []Label
	}
	var got []captured
	SetExporter(func(ctx context.Context, level Level, message string, labels []Label) {
		got = append(got, captured{level, message, labels})
	})
	defer SetExporter(nil)

	Log(context.Background(), "session started", String("session", "abc"))
	Error(context.Background(), "handler failed", errors.New("boom"), Int("requestID", 7))

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].level != LevelInfo || got[0].message != "session started" {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[1].level != LevelError || got[1].message != "handler failed" {
		t.Errorf("event 1 = %+v", got[1])
	}
	foundErr := false
	for _, l := range got[1].labels {
		if l.Key == "error" && l.Value == "boom" {
			foundErr = true
		}
	}
	if !foundErr {
		t.Errorf("error label not found in %+v", got[1].labels)
	}
}
