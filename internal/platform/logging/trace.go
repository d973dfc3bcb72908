package logging

import (
	"os"
	"regexp"
	"sync"

	"go.uber.org/zap"
)

const traceparentHeader = "traceparent"

// W3C Trace Context: {version}-{trace-id}-{parent-id}-{trace-flags}
var traceparentRe = regexp.MustCompile(`^([0-9a-fA-F]{2})-([0-9a-fA-F]{32})-([0-9a-fA-F]{16})-([0-9a-fA-F]{2})$`)

var (
	projectIDOnce   sync.Once
	cachedProjectID string
)

type traceContext struct {
	traceID string
	spanID  string
	sampled bool
}

func parseTraceparent(header string) (traceContext, bool) {
	m := traceparentRe.FindStringSubmatch(header)
	if m == nil {
		return traceContext{}, false
	}
	return traceContext{traceID: m[2], spanID: m[3], sampled: m[4] == "01"}, true
}

func (tc traceContext) resource(projectID string) string {
	return "projects/" + projectID + "/traces/" + tc.traceID
}

// requestFields builds the per-request log fields. Trace fields are only
// emitted when a project ID is known, since Cloud Logging needs the full
// resource name to correlate.
func requestFields(header, projectID, requestID string) (fields []zap.Field, traceID string) {
	if projectID != "" {
		if tc, ok := parseTraceparent(header); ok {
			traceID = tc.resource(projectID)
			fields = append(fields,
				zap.String("logging.googleapis.com/trace", traceID),
				zap.String("logging.googleapis.com/spanId", tc.spanID),
				zap.Bool("logging.googleapis.com/trace_sampled", tc.sampled),
			)
		}
	}
	if requestID != "" {
		fields = append(fields, zap.String("requestId", requestID))
		if traceID == "" {
			traceID = requestID
		}
	}
	return fields, traceID
}

func resolveProjectID() string {
	projectIDOnce.Do(func() {
		for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GCLOUD_PROJECT", "PROJECT_ID"} {
			if v := os.Getenv(key); v != "" {
				cachedProjectID = v
				return
			}
		}
	})
	return cachedProjectID
}
