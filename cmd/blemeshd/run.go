package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/blemesh/driver"
	"github.com/user/blemesh/logger"
	"github.com/user/blemesh/mesh"
	"github.com/user/blemesh/util"
)

var (
	configFlag string
	nodesFlag  int
	beaconFlag time.Duration
)

func init() {
	runCmd.Flags().StringVar(&configFlag, "config", "", "config file (default "+util.DefaultConfigPath()+")")
	runCmd.Flags().IntVar(&nodesFlag, "nodes", 3, "number of simulated nodes on the bus")
	runCmd.Flags().DurationVar(&beaconFlag, "beacon", 2*time.Second, "beacon broadcast interval (0 disables)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run simulated mesh nodes on one radio bus",
	RunE:  runRun,
}

// beaconOwner is the demo upper layer: it logs every inbound packet and,
// when started, broadcasts a numbered beacon on a fixed interval.
type beaconOwner struct {
	name  string
	iface *mesh.Interface
	stop  chan struct{}
}

func (o *beaconOwner) Inbound(data []byte, from *mesh.PeerInterface) {
	logger.Info(o.name, "inbound %d bytes from %s: %q", len(data), from.Name(), truncate(data, 48))
}

func (o *beaconOwner) start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		n := 0
		for {
			select {
			case <-o.stop:
				return
			case <-ticker.C:
				n++
				o.iface.ProcessOutgoing(fmt.Appendf(nil, "beacon %d from %s", n, o.name))
			}
		}
	}()
}

func truncate(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}

func runRun(cmd *cobra.Command, args []string) error {
	path := configFlag
	if path == "" {
		if _, err := util.EnsureDataDir(); err != nil {
			return fmt.Errorf("data dir: %w", err)
		}
		path = util.DefaultConfigPath()
	}
	cfg, err := mesh.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if nodesFlag < 1 {
		return fmt.Errorf("need at least 1 node, got %d", nodesFlag)
	}

	bus := driver.NewBus()
	var owners []*beaconOwner
	for n := 0; n < nodesFlag; n++ {
		nodeCfg := cfg
		nodeCfg.Name = fmt.Sprintf("node%d", n)
		nodeCfg.DeviceName = fmt.Sprintf("%s-%d", cfg.DeviceName, n)

		identity := uuid.New()
		drv := bus.NewDriver("")
		owner := &beaconOwner{name: nodeCfg.Name, stop: make(chan struct{})}
		iface, err := mesh.New(nodeCfg, drv, owner, identity[:])
		if err != nil {
			return fmt.Errorf("node %d: %w", n, err)
		}
		if err := iface.Start(); err != nil {
			return fmt.Errorf("node %d: %w", n, err)
		}
		owner.iface = iface
		owner.start(beaconFlag)
		owners = append(owners, owner)
	}

	logger.Info("blemeshd", "%d node(s) running, ctrl-c to stop", nodesFlag)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	for _, o := range owners {
		close(o.stop)
		o.iface.Detach()
	}
	return nil
}
