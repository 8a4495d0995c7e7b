//go:build !linux

package camera

import (
	"context"
	"fmt"

	"gocv.io/x/gocv"
)

// maxProbe is how many device indices are tried when the OS has no device listing.
const maxProbe = 4

func enumerate(ctx context.Context) ([]Device, error) {
	var devices []Device
	for i := 0; i < maxProbe; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vc, err := gocv.VideoCaptureDevice(i)
		if err != nil {
			continue
		}
		if vc.IsOpened() {
			devices = append(devices, Device{
				Label:    fmt.Sprintf("Camera %d", i),
				DeviceID: fmt.Sprint(i),
			})
		}
		vc.Close()
	}
	return devices, nil
}
