package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/RemoteDesk/internal/adapters/redis"
	"github.com/dkeye/RemoteDesk/internal/adapters/rtc"
	"github.com/dkeye/RemoteDesk/internal/config"
	"github.com/dkeye/RemoteDesk/internal/control"
	"github.com/dkeye/RemoteDesk/internal/domain"
	"github.com/dkeye/RemoteDesk/internal/link"
	"github.com/dkeye/RemoteDesk/internal/media"
	"github.com/dkeye/RemoteDesk/internal/peer"
	"github.com/dkeye/RemoteDesk/internal/permission"
	"github.com/dkeye/RemoteDesk/internal/transfer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	sid := domain.NormalizeSessionID(cfg.Peer.Session)
	switch cfg.Peer.Role {
	case string(domain.RoleHost):
		err = runHost(ctx, cfg, sid)
	default:
		err = runClient(ctx, cfg, sid)
	}
	if err != nil {
		log.Fatal().Err(err).Str("role", cfg.Peer.Role).Msg("peer failed")
	}
	log.Info().Msg("Peer exited")
}

func transports(cfg *config.Config, receiveVideo bool) peer.TransportFactory {
	rtcCfg := rtc.ConfigFromURLs(cfg.Peer.ICEServers)
	return func(remote domain.EndpointID) (link.Transport, error) {
		t, err := rtc.NewPeerTransport(rtc.Options{
			Config:       rtcCfg,
			ReceiveVideo: receiveVideo,
			Name:         string(remote),
		})
		if err != nil {
			return nil, err
		}
		if receiveVideo {
			t.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
				go drainTrack(track)
			})
		}
		return t, nil
	}
}

func drainTrack(track *webrtc.TrackRemote) {
	logger := log.With().Str("module", "peer.video").Str("codec", track.Codec().MimeType).Logger()
	logger.Info().Msg("receiving screen track")
	var packets int
	last := time.Now()
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			logger.Info().Int("packets", packets).Msg("screen track ended")
			return
		}
		packets++
		if time.Since(last) > 10*time.Second {
			logger.Debug().Int("packets", packets).Msg("screen track stats")
			last = time.Now()
		}
	}
}

func catalog(ctx context.Context, cfg *config.Config) (*permission.Catalog, func()) {
	if !cfg.Redis.Enabled {
		return permission.NewCatalog(nil), func() {}
	}
	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, only built-in profiles")
		return permission.NewCatalog(nil), func() {}
	}
	return permission.NewCatalog(redis.NewProfileStore(rdb)), func() { _ = rdb.Close() }
}

type hostInfo struct{}

func (hostInfo) Info() (map[string]any, error) {
	name, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"hostname": name,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"cpus":     runtime.NumCPU(),
	}, nil
}

func runHost(ctx context.Context, cfg *config.Config, sid domain.SessionID) error {
	cat, closeStore := catalog(ctx, cfg)
	defer closeStore()

	profileID := cfg.Peer.Profile
	if profileID == "" {
		profileID = permission.ProfileDefault
	}
	profile, err := cat.Get(ctx, profileID)
	if err != nil {
		return err
	}
	auth := permission.NewAuthority(profile.Permissions)

	var relay *media.Relay
	if cfg.Peer.RTPListen != "" {
		src, err := media.ListenUDP(cfg.Peer.RTPListen)
		if err != nil {
			return err
		}
		relay = media.NewRelay(src)
		relay.Start(ctx)
		defer relay.Stop()
		log.Info().Str("addr", src.Addr().String()).Msg("screen RTP input listening")
	}

	host, err := peer.StartHost(ctx, cfg.Peer.SignalURL, sid, auth, peer.HostOptions{
		NewTransport: transports(cfg, false),
		Relay:        relay,
		ChunkSize:    cfg.Peer.ChunkSize,
		Handlers: control.HostHandlers{
			Files:  peer.DirFiles{Root: cfg.Peer.FileRoot},
			System: hostInfo{},
			OnChat: func(msg control.Chat, isRemote bool) {
				log.Info().Str("module", "peer.chat").Bool("remote", isRemote).Msg(msg.Text)
			},
			OnPermissionRequest: func(n permission.Name) {
				log.Info().Str("module", "peer.host").Str("permission", string(n)).Msg("client requested permission")
			},
			OnPermissionDenied: func(n permission.Name, t control.Type) {
				log.Info().Str("module", "peer.host").Str("permission", string(n)).Str("type", string(t)).Msg("denied client action")
			},
		},
		OnPeerState: func(eid domain.EndpointID, s link.State) {
			log.Info().Str("module", "peer.host").Str("eid", string(eid)).Str("state", s.String()).Msg("client link")
		},
	})
	if err != nil {
		return err
	}
	log.Info().Str("sid", string(host.SessionID())).Str("profile", profile.ID).Msg("hosting, share this session id")

	select {
	case <-ctx.Done():
	case <-host.Signal().Done():
		log.Warn().Msg("signaling connection lost")
	}
	return host.Close()
}

// checkSession asks the HTTP API whether sid exists before dialing signaling.
func checkSession(ctx context.Context, apiURL string, sid domain.SessionID) error {
	if apiURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/sessions/%s", apiURL, sid), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("session status unavailable, joining anyway")
		return nil
	}
	defer resp.Body.Close()
	var st domain.SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode session status: %w", err)
	}
	if !st.Exists {
		return fmt.Errorf("%w: sid=%s", domain.ErrSessionNotFound, sid)
	}
	log.Info().Str("sid", string(sid)).Int("members", st.ClientCount).Msg("session found")
	return nil
}

func runClient(ctx context.Context, cfg *config.Config, sid domain.SessionID) error {
	if err := checkSession(ctx, cfg.Peer.APIURL, sid); err != nil {
		return err
	}
	inbox := peer.DirFiles{Root: cfg.Peer.FileRoot}
	client, err := peer.JoinClient(ctx, cfg.Peer.SignalURL, sid, peer.ClientOptions{
		NewTransport: transports(cfg, true),
		Channels:     link.DefaultChannels(cfg.Peer.FileRetransmit),
		Handlers: control.ClientHandlers{
			OnPermissionsChange: func(s permission.Set) {
				log.Info().Str("module", "peer.client").Interface("permissions", s).Msg("permissions")
			},
			OnPermissionDenied: func(n permission.Name) {
				log.Warn().Str("module", "peer.client").Str("permission", string(n)).Msg("permission denied")
			},
			OnFileReceive: func(ev transfer.Event) {
				if ev.Kind != transfer.EventComplete {
					log.Debug().Str("module", "peer.client").Str("file", ev.Name).Str("kind", string(ev.Kind)).Int64("received", ev.Received).Int64("total", ev.Total).Msg("file")
					return
				}
				if ev.Err != nil {
					log.Error().Err(ev.Err).Str("file", ev.Name).Msg("discarding corrupted file")
					return
				}
				path, err := inbox.Save(ev)
				if err != nil {
					log.Error().Err(err).Str("file", ev.Name).Msg("failed to save file")
					return
				}
				log.Info().Str("path", path).Bool("verified", ev.Verified).Msg("file received")
			},
			OnSystemInfo: func(info map[string]any) {
				log.Info().Str("module", "peer.client").Fields(info).Msg("host system info")
			},
			OnPrivacyModeChange: func(on bool) {
				log.Info().Str("module", "peer.client").Bool("privacy", on).Msg("privacy mode")
			},
			OnChatMessage: func(text string, isRemote bool) {
				log.Info().Str("module", "peer.chat").Bool("remote", isRemote).Msg(text)
			},
		},
		OnState: func(s link.State) {
			log.Info().Str("module", "peer.client").Str("state", s.String()).Msg("link")
		},
		OnHostLeft: func() {
			log.Warn().Str("module", "peer.client").Msg("host left the session")
		},
	})
	if err != nil {
		return err
	}

	select {
	case <-client.Ready():
		if client.Engine().Permissions().SystemInfo {
			if err := client.Engine().RequestSystemInfo(); err != nil {
				log.Warn().Err(err).Msg("system info request")
			}
		}
	case <-ctx.Done():
	}

	select {
	case <-ctx.Done():
	case <-client.Signal().Done():
		log.Warn().Msg("signaling connection lost")
	}
	return client.Close()
}
