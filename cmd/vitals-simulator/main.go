// Command vitals-simulator emits random readings for a set of patients,
// standing in for bedside oximeters.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	commonconfig "github.com/CJButlers/RXhale/common/config"
	"github.com/CJButlers/RXhale/common/logger"
	commonmqtt "github.com/CJButlers/RXhale/common/mqtt"
	"github.com/CJButlers/RXhale/internal/producer"

	"go.uber.org/zap"
)

func main() {
	var (
		patients = flag.String("patients", os.Getenv("SIM_PATIENT_IDS"), "comma separated patient ids")
		sinkName = flag.String("sink", envOr("SIM_SINK", "http"), "http or mqtt")
		baseURL  = flag.String("url", envOr("SIM_API_URL", "http://localhost:8080"), "monitor base URL for the http sink")
		interval = flag.Duration("interval", producer.DefaultInterval, "time between readings")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		logLevel = flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level")
	)
	flag.Parse()

	log, err := logger.NewLogger(*logLevel, envOr("LOG_FORMAT", "console"), "vitals-simulator")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ids := splitIDs(*patients)
	if len(ids) == 0 {
		log.Fatal("No patient ids given (-patients or SIM_PATIENT_IDS)")
	}

	var sink producer.Sink
	switch *sinkName {
	case "http":
		sink = producer.NewHTTPSink(*baseURL, log)
	case "mqtt":
		cfg := commonconfig.MQTTConfig{
			Broker:         "tcp://localhost:1883",
			ClientID:       fmt.Sprintf("vitals-simulator-%d", os.Getpid()),
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
		}
		cfg.LoadFromEnv("MQTT")
		client, err := commonmqtt.NewClient(&cfg, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer client.Disconnect()
		sink = producer.NewMQTTSink(client, cfg.QoS)
	default:
		log.Fatal("Unknown sink", zap.String("sink", *sinkName))
	}

	rng := rand.New(rand.NewSource(*seed))
	runner := producer.NewRunner(producer.NewRandomProducer(rng, time.Now), sink, ids, *interval, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Simulator started",
		zap.Strings("patient_ids", ids),
		zap.String("sink", *sinkName),
		zap.Duration("interval", *interval),
		zap.Int64("seed", *seed),
	)
	if err := runner.Start(ctx); err != nil {
		log.Error("Simulator stopped with error", zap.Error(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
