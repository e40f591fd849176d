package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCodePrefix prefixes generated activity codes.
const DefaultCodePrefix = "sp"

// GenerateCode builds a submission identifier of the form
// {prefix}-{type}-{unixMillis}-{random}. Each call yields a new code.
func GenerateCode(prefix, activityType string, now time.Time) string {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	if activityType == "" {
		activityType = "activity"
	}
	return fmt.Sprintf("%s-%s-%d-%s", prefix, activityType, now.UnixMilli(), randomSuffix(6))
}

// TempUserID returns an identifier for an anonymous producer.
func TempUserID(now time.Time) string {
	return "temp_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomSuffix(8)
}

// randomSuffix returns n lowercase base36 characters drawn from a random UUID.
func randomSuffix(n int) string {
	id := uuid.New()
	var b strings.Builder
	for _, octet := range id[:] {
		b.WriteString(strconv.FormatUint(uint64(octet)%36, 36))
		if b.Len() == n {
			break
		}
	}
	return b.String()
}
