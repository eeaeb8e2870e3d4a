package wire

// Meta is the small fixed header every Buffer carries alongside its
// payload bytes: enough to route a framed packet back to the client,
// operation, and instance it belongs to without re-parsing the payload.
type Meta struct {
	SourceClientID uint32
	OperationID    uint32
	Age            uint32
	InstanceID     uint32
}
