package mqtmodels

import "time"

// Device is a sensor attached to at most one bike.
type Device struct {
	ID                  string                 `json:"id"`
	BikeID              string                 `json:"bikeId,omitempty"`
	Name                string                 `json:"name"`
	Label               string                 `json:"label,omitempty"`
	Description         string                 `json:"description,omitempty"`
	DeviceType          DeviceType             `json:"deviceType"`
	UnitName            string                 `json:"unitName"`
	MQTTTopicDeviceName string                 `json:"mqttTopicDeviceName"`
	MacAddress          string                 `json:"macAddress,omitempty"`
	BluetoothName       string                 `json:"bluetoothName,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}
