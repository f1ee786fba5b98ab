package ratelimit

import "strconv"

// valores numéricos dos headers X-RateLimit-* e Retry-After
func formatInt(v int) string { return strconv.Itoa(v) }

func formatInt64(v int64) string { return strconv.FormatInt(v, 10) }
