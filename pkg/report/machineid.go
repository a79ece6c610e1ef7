package report

import (
	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// DefaultDevice names the device when no machine id is available.
const DefaultDevice = "fota-bench"

// DeviceID returns an identifier of this machine derived from its machine
// id, stable across runs.
func DeviceID() string {
	id, err := machineid.ProtectedID("fota")
	if err != nil {
		glog.Warningf("machine id: %v", err)
		return DefaultDevice
	}
	return id[:16]
}
