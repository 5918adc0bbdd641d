package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/dj-oyu/uvc-facecam/internal/camera"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
)

func main() {
	var device, sysfs string
	var logLevel string

	flag.StringVar(&device, "device", "auto", "Camera selector (auto, vendor:<id>, /dev/videoN)")
	flag.StringVar(&sysfs, "sysfs", camera.SysfsRoot, "video4linux sysfs directory")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error, silent)")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	sel, err := camera.ParseSelector(device)
	if err != nil {
		log.Fatalf("Invalid selector: %v", err)
	}

	devices, err := camera.EnumerateIn(sysfs, "/dev")
	if err != nil {
		log.Fatalf("Failed to enumerate cameras: %v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tNAME\tVENDOR\tPRODUCT\tBUS")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%04x\t%04x\t%s\n", d.Path, d.Name, d.VendorID, d.ProductID, d.Bus)
	}
	tw.Flush()

	selected, err := camera.Select(devices, sel)
	if errors.Is(err, camera.ErrNoDevice) {
		fmt.Printf("\nNo device matches %q\n", device)
		os.Exit(1)
	}
	fmt.Printf("\nSelected: %s\n", selected)
}
