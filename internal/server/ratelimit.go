// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import "golang.org/x/time/rate"

// newCommandLimiter builds the per-connection Command-phase token bucket
// (A4). ratePerSec <= 0 disables throttling entirely, since an
// unconfigured rate limit must not block a client that never asked for one.
func newCommandLimiter(ratePerSec float64, burst int) *rate.Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(ratePerSec), burst)
}
