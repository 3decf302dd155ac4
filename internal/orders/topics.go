package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
	TopicDeliveryUpdated    = "order.delivery.updated"
	TopicGuestOrderReceived = "order.guest.received"
)

var AllTopics = []string{
	TopicOrderPlaced,
	TopicOrderStatusChanged,
	TopicDeliveryUpdated,
	TopicGuestOrderReceived,
}

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
