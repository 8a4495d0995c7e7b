package camera

import (
	"context"
	"sort"
)

// Device is an enumerated capture device.
type Device struct {
	Label    string `json:"label"`
	DeviceID string `json:"device_id"`
}

// Enumerate lists capture devices in a stable order.
func Enumerate(ctx context.Context) ([]Device, error) {
	devices, err := enumerate(ctx)
	if err != nil {
		return nil, &DeviceError{Op: "enumerate", Err: err}
	}
	sort.SliceStable(devices, func(i, j int) bool {
		return lessDeviceID(devices[i].DeviceID, devices[j].DeviceID)
	})
	return devices, nil
}

// lessDeviceID orders numeric ids numerically and everything else lexically.
func lessDeviceID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
