package spendperm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxActivationWait is the sanity ceiling on how long a "not yet active"
// condition may ask us to wait. Anything beyond it means something else is
// wrong and the attempt is not retryable.
const maxActivationWait = 120 * time.Second

// NotActiveError means the permission was queried before its activation
// timestamp. It is retryable after Wait.
type NotActiveError struct {
	Current int64
	Start   int64
	Wait    time.Duration
	Cause   error
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("permission not active yet: current %d, start %d (wait %s)", e.Current, e.Start, e.Wait)
}

func (e *NotActiveError) Unwrap() error { return e.Cause }

var notActivePattern = regexp.MustCompile(
	`(?i)current\s+(?:unix\s+)?time(?:stamp)?\s+(\d+)\s+is\s+(?:before|less\s+than)\s+(?:the\s+)?(?:permission\s+)?start\s+time(?:stamp)?\s+(\d+)`)

var digits = regexp.MustCompile(`\d+`)

// classifyStatusError inspects a failed permission query. A timing failure
// with an extractable wait within the sanity ceiling becomes a
// *NotActiveError; everything else is returned as-is and treated as fatal
// for the attempt.
func classifyStatusError(err error) error {
	if err == nil {
		return nil
	}

	current, start, ok := extractTimestamps(err.Error())
	if !ok || start <= current {
		return err
	}
	delta := start - current
	if time.Duration(delta)*time.Second > maxActivationWait {
		return fmt.Errorf("permission activation %ds away, beyond the %s retry ceiling: %w",
			delta, maxActivationWait, err)
	}
	return &NotActiveError{
		Current: current,
		Start:   start,
		Wait:    time.Duration(delta) * time.Second,
		Cause:   err,
	}
}

// extractTimestamps pulls the (current, start) pair out of a failure detail.
// The strict form is matched first; a looser scan covers wallets that phrase
// the same condition differently but still embed both timestamps.
func extractTimestamps(detail string) (current, start int64, ok bool) {
	if m := notActivePattern.FindStringSubmatch(detail); m != nil {
		current, err1 := strconv.ParseInt(m[1], 10, 64)
		start, err2 := strconv.ParseInt(m[2], 10, 64)
		if err1 == nil && err2 == nil {
			return current, start, true
		}
	}

	lower := strings.ToLower(detail)
	if !strings.Contains(lower, "before") || !strings.Contains(lower, "start") {
		return 0, 0, false
	}
	nums := digits.FindAllString(detail, 3)
	if len(nums) < 2 {
		return 0, 0, false
	}
	c, err1 := strconv.ParseInt(nums[0], 10, 64)
	s, err2 := strconv.ParseInt(nums[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return c, s, true
}
