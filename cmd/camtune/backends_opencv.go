//go:build opencv

package main

import (
	_ "github.com/camtune/camtune/pkg/device/opencv"
)
