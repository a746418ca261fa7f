package domain

import "time"

// ShipmentStatus lifecycle: INITIATED → SHIPPED → DELIVERED, with
// CANCELLED reachable only before SHIPPED.
type ShipmentStatus string

const (
	ShipmentInitiatedStatus ShipmentStatus = "INITIATED"
	ShipmentShipped         ShipmentStatus = "SHIPPED"
	ShipmentDelivered       ShipmentStatus = "DELIVERED"
	ShipmentCancelled       ShipmentStatus = "CANCELLED"
)

// Cancellable reports whether a shipment in this status may still be
// cancelled.
func (s ShipmentStatus) Cancellable() bool {
	return s != ShipmentShipped && s != ShipmentDelivered && s != ShipmentCancelled
}

type Shipment struct {
	ShipmentID      string         `json:"shipment_id"`
	OrderUUID       string         `json:"order_uuid"`
	Status          ShipmentStatus `json:"status"`
	TrackingNumber  string         `json:"tracking_number"`
	ShippingAddress string         `json:"shipping_address"`
	ShippingMethod  string         `json:"shipping_method"`
	InitiatedAt     time.Time      `json:"initiated_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
