package association

import (
	"time"

	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
)

//MessagingContext is an interface that allows mocking of messaging.Context parameters
type MessagingContext interface {
	PublishOnTopic(message messaging.TopicMessage) error
}

const contentTypeJSON = "application/json"

//DeviceAssigned is published after a device has been associated with a gateway
type DeviceAssigned struct {
	DeviceID      uint   `json:"deviceId"`
	GatewayID     uint   `json:"gatewayId"`
	GatewaySerial string `json:"gatewaySerial"`
	Timestamp     string `json:"timestamp"`
}

//ContentType returns the content type of the message body
func (e *DeviceAssigned) ContentType() string {
	return contentTypeJSON
}

//TopicName returns the topic this message is published on
func (e *DeviceAssigned) TopicName() string {
	return "gateway.device.assigned"
}

//DeviceDetached is published after a device has been removed from its gateway
type DeviceDetached struct {
	DeviceID      uint   `json:"deviceId"`
	GatewayID     uint   `json:"gatewayId"`
	GatewaySerial string `json:"gatewaySerial"`
	Timestamp     string `json:"timestamp"`
}

//ContentType returns the content type of the message body
func (e *DeviceDetached) ContentType() string {
	return contentTypeJSON
}

//TopicName returns the topic this message is published on
func (e *DeviceDetached) TopicName() string {
	return "gateway.device.detached"
}

//GatewayDetached is published after every device has been removed from a gateway
type GatewayDetached struct {
	GatewayID     uint   `json:"gatewayId"`
	GatewaySerial string `json:"gatewaySerial"`
	Devices       []uint `json:"devices"`
	Timestamp     string `json:"timestamp"`
}

//ContentType returns the content type of the message body
func (e *GatewayDetached) ContentType() string {
	return contentTypeJSON
}

//TopicName returns the topic this message is published on
func (e *GatewayDetached) TopicName() string {
	return "gateway.detached"
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
