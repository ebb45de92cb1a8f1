package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/etherlink/etherlink"
	"github.com/etherlink/etherlink/config"
	"github.com/etherlink/etherlink/iobus"
	"github.com/etherlink/etherlink/util"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *printUsage {
		flag.Usage()
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	err := c.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %s", err)
		os.Exit(1)
	}

	bus, arena, err := buildBus(c, l)
	if err != nil {
		fmt.Printf("failed to build device bus: %s", err)
		os.Exit(1)
	}

	ctrl, err := etherlink.Main(c, *configTest, Build, l, bus, arena)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, l)
		os.Exit(1)
	}

	if !*configTest {
		if err := ctrl.Start(); err != nil {
			util.LogWithContextIfNeeded("Failed to enable the adapter", err, l)
			os.Exit(1)
		}
		ctx, cancel := context.WithCancel(context.Background())
		c.CatchHUP(ctx)
		go watchdog(ctx, ctrl, c)
		ctrl.ShutdownBlock()
		cancel()
	}

	os.Exit(0)
}

// buildBus constructs the simulated adapter the daemon runs against; real
// port I/O needs a kernel, not a userspace process.
func buildBus(c *config.C, l *logrus.Logger) (iobus.Bus, *etherlink.Arena, error) {
	base := c.GetUint16("device.io_base", 0x300)
	mac, err := parseMAC(c.GetString("device.mac", "02:60:8c:00:00:01"))
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(c.GetString("device.variant", "3c509b")) {
	case "3c509b":
		s := iobus.NewSim509(base, mac, l)
		s.LinkBeat = true
		return s, nil, nil
	case "3c515":
		s := iobus.NewSim515(base, mac, l)
		arena := etherlink.NewArena(c.GetUint32("dma.arena_base", 0x100000), c.GetInt("dma.arena_size", 1<<20))
		s.AttachMemory(arena)
		return s, arena, nil
	default:
		return nil, nil, fmt.Errorf("unknown device variant %q", c.GetString("device.variant", ""))
	}
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, err
	}
	if len(hw) != 6 {
		return mac, fmt.Errorf("station address %q is not 6 bytes", s)
	}
	copy(mac[:], hw)
	return mac, nil
}

// watchdog drives the deferred-work poll and the link recheck at a bounded
// rate from mainline context until the daemon shuts down.
func watchdog(ctx context.Context, ctrl *etherlink.Control, c *config.C) {
	ticker := time.NewTicker(c.GetDuration("media.recheck_interval", 5*time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctrl.Poll()
			_ = ctrl.RecheckLink()
		}
	}
}
