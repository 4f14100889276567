// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import "testing"

func TestNewCommandLimiter_ZeroOrNegativeDisables(t *testing.T) {
	if l := newCommandLimiter(0, 10); l != nil {
		t.Errorf("expected nil limiter for rate=0, got %v", l)
	}
	if l := newCommandLimiter(-1, 10); l != nil {
		t.Errorf("expected nil limiter for rate=-1, got %v", l)
	}
}

func TestNewCommandLimiter_PositiveRateBuildsLimiter(t *testing.T) {
	l := newCommandLimiter(20, 40)
	if l == nil {
		t.Fatal("expected a non-nil limiter")
	}
	if l.Burst() != 40 {
		t.Errorf("expected burst 40, got %d", l.Burst())
	}
}
