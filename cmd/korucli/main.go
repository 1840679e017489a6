// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"encoding/json"
	"flag"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruview/device"
)

var (
	debug  = flag.Bool("vkdbg", false, "Load Vulkan validation layers")
	indent = flag.Bool("indent", false, "Indent the JSON output")
)

func main() {
	flag.Parse()

	instance, err := device.NewVulkanInstance(device.DefaultVulkanApplicationInfo, nil, device.InstanceConfiguration{
		DebugMode: *debug,
	})
	if err != nil {
		log.WithError(err).Fatal("could not create a vulkan instance")
	}
	defer instance.Destroy()

	enc := json.NewEncoder(os.Stdout)
	if *indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(instance.PhysicalDevicesInfo()); err != nil {
		log.WithError(err).Error("could not encode device info")
	}
}
