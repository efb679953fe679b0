package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fleetsim/internal/cluster"
	"fleetsim/internal/common"
	"fleetsim/internal/events"
	"fleetsim/internal/fleet"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to yaml configuration file")
		development = flag.Bool("dev", false, "Enable development mode")
		racks       = flag.Int("racks", 0, "Override number of racks")
		nodes       = flag.Int("nodes-per-rack", 0, "Override nodes per rack")
		strategy    = flag.String("strategy", "", "Override scheduler strategy (fair, capacity)")
	)
	flag.Parse()

	config := common.GetDefaultConfig()
	if *configPath != "" {
		loaded, err := common.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	}
	if *racks > 0 {
		config.Topology.Racks = *racks
	}
	if *nodes > 0 {
		config.Topology.NodesPerRack = *nodes
	}
	if *strategy != "" {
		config.Cluster.Strategy = *strategy
	}

	if config.LogFile != "" {
		if err := common.InitFileLogger(config.LogFile, *development); err != nil {
			panic(err)
		}
	} else if err := common.InitLogger(*development); err != nil {
		panic(err)
	}
	defer common.Sync()

	logger := common.GetLogger()
	logger.Info("fleetsim configuration",
		zap.String("strategy", config.Cluster.Strategy),
		zap.Int("racks", config.Topology.Racks),
		zap.Int("nodes_per_rack", config.Topology.NodesPerRack),
		zap.Int64("node_memory", config.Node.Capacity.Memory),
		zap.Int32("node_vcores", config.Node.Capacity.VCores),
		zap.Duration("heartbeat_interval", config.Node.HeartbeatInterval.Std()))

	schedStrategy, err := cluster.NewStrategy(config.Cluster.Strategy)
	if err != nil {
		log.Fatalf("Failed to create scheduler strategy: %v", err)
	}

	manager := cluster.NewManager(schedStrategy, config.Cluster)
	defer manager.Stop()

	httpServer := cluster.NewHTTPServer(manager)
	if err := httpServer.Start(config.Cluster.HTTPPort); err != nil {
		log.Fatalf("Failed to start status server: %v", err)
	}
	defer func() {
		if err := httpServer.Stop(); err != nil {
			logger.Error("Error stopping status server", zap.Error(err))
		}
	}()

	runID := uuid.NewString()
	var publisher events.Publisher = events.NopPublisher{}
	if len(config.Events.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(config.Events.Brokers, config.Events.Topic, runID)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}
	simFleet := fleet.New(config, manager, publisher, runID)

	if err := simFleet.Start(); err != nil {
		log.Fatalf("Failed to start fleet: %v", err)
	}
	defer simFleet.Stop()

	logger.Info("fleet running",
		zap.String("run_id", simFleet.RunID()),
		zap.Int("nodes", simFleet.Size()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	failures := simFleet.Failures()
	for {
		select {
		case <-sigChan:
			logger.Info("Received shutdown signal")
			return
		case err, ok := <-failures:
			if !ok {
				return
			}
			logger.Error("node startup failure", zap.Error(err))
		}
	}
}
