package request

import (
	"net/http"
	"strconv"
)

// JobsQuery holds parsed job-history query parameters.
type JobsQuery struct {
	Source string
	Limit  int
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ParseJobsQuery extracts source and limit from query parameters.
func ParseJobsQuery(r *http.Request) JobsQuery {
	q := JobsQuery{
		Source: r.URL.Query().Get("source"),
		Limit:  DefaultLimit,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			q.Limit = limit
		}
	}

	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	return q
}
