package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent order placement: idem:order:create:{user_id}:{Idempotency-Key} -> order_id | "pending"
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Read cache: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Event dedup: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Staff activity feed, newest first.
	KeyStaffFeed = "staff:feed"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func IdemOrderCreateKey(userID, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, userID, key)
}

func OrderKey(orderID string) string { return fmt.Sprintf(KeyOrder, orderID) }

func DedupKey(consumer, eventID string) string {
	return fmt.Sprintf(KeyDedup, consumer, eventID)
}
