package mqtmodels

import "time"

// Bike is a physical exercise bike. The topic prefix/suffix pair lets the
// ingestor recognise which bike a topic belongs to.
type Bike struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Label                 string    `json:"label,omitempty"`
	Description           string    `json:"description,omitempty"`
	MQTTTopicPrefix       string    `json:"mqttTopicPrefix,omitempty"`
	MQTTReportTopicSuffix string    `json:"mqttReportTopicSuffix,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}
