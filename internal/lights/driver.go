package lights

// Driver is the capability surface for switching a named light. The presence
// engine depends only on this interface; concrete transports (MQTT, dry-run)
// are wired at startup.
type Driver interface {
	TurnOn(light string) error
	TurnOff(light string) error
	GetStatus(light string) (bool, error)
}
