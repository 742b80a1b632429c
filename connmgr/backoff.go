package connmgr

import "time"

// backoffSchedule lists the retry delays 1, 2, 4, 8, 16 seconds; its length
// caps the connection manager at five total attempts. Connect waits
// backoffSchedule[n-1] before attempt n+1, so only the first four delays
// (15 seconds in all) are ever waited.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

const maxAttempts = len(backoffSchedule)
