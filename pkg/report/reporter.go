package report

import (
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/fota.go/pkg/fota"
)

// Topics relative to the device
const (
	StatusTopic  = "status"
	TriggerTopic = "update"
)

// PublishTimeout bounds the wait for a status publish.
const PublishTimeout = 2 * time.Second

// Publisher is the publishing side of a Queue.
type Publisher interface {
	PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token
}

// MQTTReporter publishes fota events as retained status messages on
// <device>/status.
type MQTTReporter struct {
	Device string

	pub Publisher
}

// NewMQTTReporter creates a reporter.
func NewMQTTReporter(pub Publisher, device string) *MQTTReporter {
	return &MQTTReporter{Device: device, pub: pub}
}

// Topic returns the status topic.
func (r *MQTTReporter) Topic() string {
	return r.Device + "/" + StatusTopic
}

// Report implements fota.Reporter.
func (r *MQTTReporter) Report(ev fota.Event) {
	payload, err := Encode(r.Device, ev)
	if err != nil {
		glog.Warningf("report: encode %s: %v", ev.Stage, err)
		return
	}
	token := r.pub.PubWith(r.Topic(), payload, 1, true)
	if !token.WaitTimeout(PublishTimeout) {
		glog.Warningf("report: publish %s: timeout", ev.Stage)
	} else if err = token.Error(); err != nil {
		glog.Warningf("report: publish %s: %v", ev.Stage, err)
	}
}

// Trigger is a remote request to run an update.
type Trigger struct {
	// File overrides the firmware file, empty for the default.
	File string
}

// ParseTrigger parses a trigger payload: an optional firmware file name.
func ParseTrigger(payload []byte) Trigger {
	return Trigger{File: strings.TrimSpace(string(payload))}
}

// WatchTriggers subscribes to <device>/update on q.
func WatchTriggers(q *Queue, device string, fn func(Trigger)) *Subscription {
	return q.Sub(device+"/"+TriggerTopic, func(topic string, payload []byte) {
		trigger := ParseTrigger(payload)
		glog.Infof("report: update requested on %s %q", topic, trigger.File)
		fn(trigger)
	})
}

// Nop discards events.
type Nop struct{}

// Report implements fota.Reporter.
func (Nop) Report(fota.Event) {}
