// presenced drives smart-light switches from a camera's motion-detection
// event stream: connect, frame alert records, evaluate presence rules, and
// manage debounced auto-off timers.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-presence/internal/api"
	"github.com/technosupport/ts-presence/internal/config"
	"github.com/technosupport/ts-presence/internal/events"
	"github.com/technosupport/ts-presence/internal/isapi"
	"github.com/technosupport/ts-presence/internal/lights"
	"github.com/technosupport/ts-presence/internal/presence"
)

func main() {
	configPath := flag.String("config", "presence.yaml", "path to config file")
	flag.Parse()

	// Optional .env beside the binary, same variables the config reads.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Light driver: MQTT when a broker is configured, dry-run otherwise.
	var driver lights.Driver
	if cfg.MQTT.BrokerURL != "" {
		mqttDriver, err := lights.NewMQTTDriver(lights.MQTTConfig{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Lights:    topicBindings(cfg),
		})
		if err != nil {
			log.Fatalf("[FATAL] %v", err)
		}
		defer mqttDriver.Close()
		driver = mqttDriver
	} else {
		log.Printf("[WARN] no MQTT broker configured, switching lights in dry-run mode")
		driver = lights.NewMemoryDriver()
	}

	engine, err := presence.NewEngine(driver, channelGroups(cfg), nil)
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	defer engine.Shutdown()

	// Observability side: dedup, live feed, optional NATS publishing.
	feed := events.NewFeed()
	dedup := events.NewDedup(1024, config.DefaultDedupTTL)

	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("ts-presence"))
		if err != nil {
			log.Fatalf("[FATAL] nats connect: %v", err)
		}
		defer nc.Close()
		publisher = events.NewPublisher(nc, cfg.NATS.Subject, 2)
		log.Printf("[INFO] publishing events to NATS subject %s", cfg.NATS.Subject)
	}

	handler := func(ev isapi.Event) {
		// Presence logic sees every event; dedup only gates observers.
		engine.HandleEvent(ev)

		env := events.FromStreamEvent(ev)
		if dedup.IsDuplicate(env.DedupKey) {
			return
		}
		feed.Publish(env)
		if publisher != nil {
			if err := publisher.Publish(env); err != nil {
				log.Printf("[ERROR] %v", err)
			}
		}
	}

	supervisor := isapi.NewSupervisor(isapi.SupervisorConfig{
		URL:        cfg.Stream.URL,
		Username:   cfg.Stream.Username,
		Password:   cfg.Stream.Password,
		MaxRetries: cfg.Stream.MaxRetries,
	}, handler)

	server := api.NewServer(cfg.API.ListenAddr, engine, supervisor, feed)
	server.Start()

	config.StartWatcher(ctx, *configPath, func() {
		log.Printf("[WARN] config file changed; restart presenced to apply the new mapping")
	})

	// The API stays up after stream exhaustion so /healthz can report the
	// stopped stream instead of the process just vanishing.
	streamDone := make(chan error, 1)
	go func() { streamDone <- supervisor.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-streamDone:
		if errors.Is(err, isapi.ErrRetriesExhausted) {
			log.Printf("[ERROR] event stream stopped permanently; serving unhealthy status until restart")
			<-ctx.Done()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] api shutdown: %v", err)
	}
	log.Printf("[INFO] presenced stopped")
}

func topicBindings(cfg *config.Config) map[string]lights.TopicBinding {
	out := make(map[string]lights.TopicBinding, len(cfg.Lights))
	for name, lc := range cfg.Lights {
		out[name] = lights.TopicBinding{CommandTopic: lc.CommandTopic, StateTopic: lc.StateTopic}
	}
	return out
}

func channelGroups(cfg *config.Config) []presence.ChannelGroup {
	out := make([]presence.ChannelGroup, 0, len(cfg.Presence))
	for _, group := range cfg.Presence {
		rules := make([]presence.LightRule, 0, len(group.Lights))
		for _, rule := range group.Lights {
			windows := make([]presence.Window, 0, len(rule.ActiveTime))
			for _, w := range rule.ActiveTime {
				windows = append(windows, presence.Window{Start: w[0], End: w[1]})
			}
			rules = append(rules, presence.LightRule{
				Light:      rule.Light,
				Duration:   rule.Duration,
				ActiveTime: windows,
			})
		}
		out = append(out, presence.ChannelGroup{Channels: group.Channels, Lights: rules})
	}
	return out
}
