package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"breeze-device/breeze"
	"breeze-device/config"
	"breeze-device/hal/tinyble"
	"breeze-device/kv"
	"breeze-device/server"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logs.Path != "" {
		os.MkdirAll(cfg.Logs.Path, 0755)
		logFile, err := os.OpenFile(cfg.Logs.Path+"/breezed.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
		}
	}

	log.Infof("Starting Breeze device daemon v%s", Version)
	log.Infof("  Product ID: 0x%08X", cfg.Device.ProductID)
	log.Infof("  Auth: %v  OTA: %v  Signed adv: %v",
		cfg.Device.EnableAuth, cfg.Device.EnableOta, cfg.Device.SignedAdv)
	log.Infof("  Seq backend: %s", cfg.Seq.Backend)
	log.Infof("  Web port: %d", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	var store breeze.SeqStore
	switch cfg.Seq.Backend {
	case "redis":
		store = kv.NewRedis(cfg.Seq.RedisAddr, cfg.Seq.RedisPassword, cfg.Seq.RedisDB)
	default:
		fileStore, err := kv.NewFile(cfg.Seq.Dir)
		if err != nil {
			log.Fatalf("Failed to open seq store: %v", err)
		}
		store = fileStore
	}

	driver := tinyble.New(cfg.Ble.LocalName)
	if err := driver.Enable(); err != nil {
		log.Fatalf("Failed to bring up BLE stack: %v", err)
	}

	vendorData, err := hex.DecodeString(cfg.Device.VendorAdvData)
	if err != nil {
		log.Fatalf("Bad vendor_adv_data hex: %v", err)
	}

	engine, err := breeze.New(driver, store, breeze.DeviceConfig{
		ProductID:        cfg.Device.ProductID,
		ProductKey:       []byte(cfg.Device.ProductKey),
		DeviceKey:        []byte(cfg.Device.DeviceKey),
		Secret:           []byte(cfg.Device.Secret),
		ProductSecret:    []byte(cfg.Device.ProductSecret),
		Version:          cfg.Device.Version,
		EnableOta:        cfg.Device.EnableOta,
		EnableAuth:       cfg.Device.EnableAuth,
		UseProductSecret: cfg.Device.UseProductSecret,
		SignedAdv:        cfg.Device.SignedAdv,
		MaxMTU:           cfg.Transport.MaxMTU,
		TransportTimeout: cfg.Transport.Timeout,
		AuthTimeout:      cfg.Transport.AuthTimeout,
		SeqFlushInterval: cfg.Seq.FlushInterval,
		UserAdvData:      vendorData,

		StatusChanged: func(ev breeze.EventType) {
			log.Infof("Status: %v", ev)
		},
		SetCb: func(payload []byte) {
			log.Infof("Control request: %d bytes", len(payload))
		},
		GetCb: func(payload []byte) {
			log.Infof("Query request: %d bytes", len(payload))
		},
		ApInfoCb: func(payload []byte) {
			log.Infof("AP info received: %d bytes", len(payload))
		},
		OtaCb: func(info *breeze.OtaInfo) {
			if info.Type == breeze.OtaTypeCmd {
				log.Infof("OTA command 0x%02X (%d bytes)", uint8(info.Cmd), len(info.Payload))
			} else {
				log.Debugf("OTA event %d status=%d", info.Evt, info.Status)
			}
		},
	})
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Errorf("Engine shutdown: %v", err)
		}
		driver.Close()
	}()

	driver.Bind(engine)

	srv := server.New(cfg.Server.Port, Version, engine)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
