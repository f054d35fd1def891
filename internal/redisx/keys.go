package redisx

import "time"

const (
	// Cached sale view: sale_status:{sale_id} -> JSON of the public sale view
	KeySaleStatus = "sale_status:%s"

	// Latest invalidated version: sale_status_ver:{sale_id} -> updated_at in unix micros
	KeySaleStatusVersion = "sale_status_ver:%s"

	// Payment authorization: payment:auth:{payment_ref} -> {"payment_ref": "...", "amount": 0}
	KeyPaymentAuth = "payment:auth:%s"

	// Single-use marker: payment:used:{payment_ref} -> sale_id that spent it
	KeyPaymentUsed = "payment:used:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sweep lease: lease:{name} -> holder token
	KeyLease = "lease:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLPaymentAuth = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
