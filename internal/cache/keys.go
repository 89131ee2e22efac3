package cache

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

func CheckpointKey(documentID uuid.UUID) string {
	return fmt.Sprintf("checkpoint:document:%s", documentID)
}

func RetrievalKey(queryHash string) string {
	return fmt.Sprintf("retrieval:search:%s", queryHash)
}

func RateLimitKey(ownerID string) string {
	return fmt.Sprintf("ratelimit:%s", ownerID)
}

func formatCounter(n int64) string {
	return strconv.FormatInt(n, 10)
}

func parseCounter(b []byte) int64 {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
