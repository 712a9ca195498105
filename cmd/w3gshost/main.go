// w3gshost hosts a single Warcraft III lobby: it loads a map descriptor
// and host settings from a key=value configuration file, binds the TCP
// and UDP sockets, and drives the join/countdown/loading/action-relay
// state machine until the operator closes the lobby (console quit or a
// process signal) and every connection is gone, or until the TCP listener
// or UDP socket closes. A status API, an MQTT telemetry publisher, and an interactive
// console are optional ambient services layered on top — none of them
// ever touch session state directly.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/w3gshost/w3gshost/internal/announcer"
	"github.com/w3gshost/w3gshost/internal/cli"
	"github.com/w3gshost/w3gshost/internal/config"
	"github.com/w3gshost/w3gshost/internal/events"
	"github.com/w3gshost/w3gshost/internal/hostloop"
	"github.com/w3gshost/w3gshost/internal/mapdata"
	"github.com/w3gshost/w3gshost/internal/netio"
	"github.com/w3gshost/w3gshost/internal/session"
	"github.com/w3gshost/w3gshost/internal/statusapi"
	"github.com/w3gshost/w3gshost/internal/telemetry"
	"github.com/w3gshost/w3gshost/internal/util"
)

const (
	AppName    = "w3gshost"
	AppVersion = "1.0.0"
	Banner     = `
 __      _____  _____  _____  _               _
 \ \    / /___|/ ____|/ ____|| |__   ___  ___| |_
  \ \/\/ /__ \| |  __| (___  | '_ \ / _ \/ __| __|
   \_/\_/ / __/| | |_ \\___ \ | | | | (_) \__ \ |_
           \___/\_____|____/ |_| |_|\___/|___/\__|  v%s
 Warcraft III lobby host & action relay
`
)

// exit codes, per spec §6.
const (
	exitNormal      = 0
	exitConfigError = 1
	exitBindError   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "w3gshost.cfg", "path to the host configuration file")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	hostCounter := randUint32()

	logCfg := util.DefaultLogConfig()
	logCfg.HostCounter = hostCounter
	if err := util.InitLogger(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitConfigError
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting w3gshost")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Str("path", *configPath).Msg("failed to load configuration")
		return exitConfigError
	}

	hc := cfg.LoadHostConfig()
	validation := config.ValidateHostConfig(hc)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Error().Msg("configuration validation failed, fix the errors above")
		return exitConfigError
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	mc := cfg.LoadMapConfig()
	m := mapdata.Load(mapdata.Params{
		Path:       mc.Path,
		Size:       mc.Size,
		Info:       mc.Info,
		CRC:        mc.CRC,
		SHA1:       mc.SHA1,
		Width:      mc.Width,
		Height:     mc.Height,
		Options:    mc.Options,
		Slots:      mc.Slots,
		NumPlayers: mc.NumPlayers,
	})
	if err := m.Validate(); err != nil {
		log.Error().Err(err).Msg("map descriptor invalid, cannot host")
		return exitConfigError
	}

	sess, err := session.NewSession(session.Config{
		HostCounter:     hostCounter,
		EntryKey:        randUint32(),
		RandomSeed:      randUint32(),
		SyncLimit:       hc.SyncLimit,
		LatencyMS:       hc.LatencyMS,
		HostPort:        hc.HostPort,
		GameName:        hc.GameName,
		VirtualHostName: hc.VirtualHostName,
		War3Version:     hc.War3Version,
		Map:             m,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		return exitConfigError
	}

	addr := fmt.Sprintf(":%d", hc.HostPort)
	listener, err := netio.Listen(addr)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("failed to bind TCP listener")
		return exitBindError
	}
	defer listener.Close()

	udp, err := netio.ListenUDP(fmt.Sprintf(":%d", config.AnnouncePort), fmt.Sprintf("255.255.255.255:%d", config.AnnouncePort))
	if err != nil {
		log.Error().Err(err).Msg("failed to bind UDP socket")
		return exitBindError
	}

	ann := announcer.New(udp, sess)

	loop := hostloop.New(listener, udp, sess, ann, hostloop.Options{
		AutoStartPlayers: hc.AutoStart,
		LagKickTimeoutMS: hc.LagKickTimeoutMS,
	})

	bus := events.NewEventBus()
	loop.SetEventBus(bus)
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mqttCfg := cfg.LoadMQTTConfig()
	if mqttCfg.Enabled {
		pub, err := telemetry.NewPublisher(mqttCfg, hostCounter, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize mqtt telemetry, continuing without it")
		} else {
			go func() {
				if err := pub.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("mqtt telemetry stopped")
				}
			}()
		}
	}

	apiCfg := cfg.LoadAPIConfig()
	var api *statusapi.Server
	if apiCfg.Enabled {
		api = statusapi.NewServer(statusapi.Config{Addr: apiCfg.Addr, AllowedOrigins: apiCfg.AllowedOrigins}, loop)
		go func() {
			if err := api.Start(); err != nil {
				log.Warn().Err(err).Msg("status API stopped")
			}
		}()
	}

	bus.Emit(ctx, events.Event{
		Type:   events.EventLobbyCreated,
		Source: "main",
		Payload: events.LobbyCreatedPayload{
			HostCounter: hostCounter,
			GameName:    hc.GameName,
			MapPath:     m.Path,
			HostPort:    hc.HostPort,
		},
	})

	console := cli.NewCLI(loop)
	go console.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		loop.SubmitShutdown("process signal")
	}()

	loop.Run()

	bus.Emit(ctx, events.Event{
		Type:   events.EventLobbyClosed,
		Source: "main",
		Payload: events.LobbyClosedPayload{HostCounter: hostCounter, Reason: "lobby emptied"},
	})
	cancel()

	if api != nil {
		if err := api.Stop(); err != nil {
			log.Warn().Err(err).Msg("status API shutdown error")
		}
	}

	log.Info().Msg("lobby closed")
	return exitNormal
}

// randUint32 draws a cryptographically random 32-bit value for the
// host_counter, entry_key, and random_seed fields spec §3 requires be
// unpredictable to LAN clients (entry_key in particular is quoted back by
// joining clients as proof of LAN presence).
func randUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		log.Warn().Err(err).Msg("crypto/rand read failed, falling back to a fixed seed")
		return 0x12345678
	}
	return binary.LittleEndian.Uint32(b[:])
}
