package main

// Capture backends register themselves with pkg/device. v4l2 is only
// functional on Linux; opencv needs the opencv build tag.
import (
	_ "github.com/camtune/camtune/pkg/device/mock"
	_ "github.com/camtune/camtune/pkg/device/v4l2"
)
