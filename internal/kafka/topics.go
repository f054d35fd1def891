package kafka

import "github.com/ariefcatur/go-vending-sales/internal/sales"

const (
	TopicSaleCreated       = "sale.created"
	TopicSaleReserved      = "sale.reserved"
	TopicSalePaid          = "sale.paid"
	TopicSaleFulfilled     = "sale.fulfilled"
	TopicSaleCanceled      = "sale.canceled"
	TopicSaleExpired       = "sale.expired"
	TopicSaleUpdated       = "sale.updated"
	TopicSaleDeleted       = "sale.deleted"
	TopicPaymentAuthorized = "sale.payment.authorized"
)

var topicByEvent = map[string]string{
	sales.EventSaleCreated:   TopicSaleCreated,
	sales.EventSaleReserved:  TopicSaleReserved,
	sales.EventSalePaid:      TopicSalePaid,
	sales.EventSaleFulfilled: TopicSaleFulfilled,
	sales.EventSaleCanceled:  TopicSaleCanceled,
	sales.EventSaleExpired:   TopicSaleExpired,
	sales.EventSaleUpdated:   TopicSaleUpdated,
	sales.EventSaleDeleted:   TopicSaleDeleted,
}

// Partition key = sale_id, so every event of one sale stays in order.
func PartitionKey(saleID string) []byte { return []byte(saleID) }
