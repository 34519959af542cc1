// Command taleweave is the main entry point for the Taleweave narration server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/taleweave/taleweave/internal/announce"
	"github.com/taleweave/taleweave/internal/config"
	"github.com/taleweave/taleweave/internal/health"
	"github.com/taleweave/taleweave/internal/narrate"
	"github.com/taleweave/taleweave/internal/observe"
	"github.com/taleweave/taleweave/internal/server"
	"github.com/taleweave/taleweave/internal/session"
	"github.com/taleweave/taleweave/internal/transcript"
	"github.com/taleweave/taleweave/pkg/archive/postgres"
	"github.com/taleweave/taleweave/pkg/audio/ffmpeg"
	"github.com/taleweave/taleweave/pkg/provider/embeddings"
	oaembed "github.com/taleweave/taleweave/pkg/provider/embeddings/openai"
	"github.com/taleweave/taleweave/pkg/provider/llm"
	"github.com/taleweave/taleweave/pkg/provider/llm/anyllm"
	"github.com/taleweave/taleweave/pkg/provider/stt"
	"github.com/taleweave/taleweave/pkg/provider/stt/whisper"
	"github.com/taleweave/taleweave/pkg/provider/tts"
	"github.com/taleweave/taleweave/pkg/provider/tts/elevenlabs"
	oaitts "github.com/taleweave/taleweave/pkg/provider/tts/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// sttSampleRate is the PCM rate speech uploads are decoded to.
const sttSampleRate = 16000

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "taleweave: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "taleweave: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("taleweave starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "taleweave",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.LLM == nil {
		slog.Error("no LLM provider available; check providers.llm in the config")
		return 1
	}

	// ── Story archive (optional) ──────────────────────────────────────────────
	var store *postgres.Store
	if cfg.Archive.PostgresDSN != "" {
		dims := cfg.Archive.EmbeddingDimensions
		if dims == 0 {
			if providers.Embeddings != nil {
				dims = providers.Embeddings.Dimensions()
			} else {
				// The vector column needs a width even when no embeddings
				// provider is configured and beats are text-search only.
				dims = 1536
			}
		}
		store, err = postgres.NewStore(ctx, cfg.Archive.PostgresDSN, dims)
		if err != nil {
			slog.Error("failed to open story archive", "err", err)
			return 1
		}
		defer store.Close()
		if providers.Embeddings != nil {
			slog.Info("story archive connected", "dimensions", dims, "embedding_model", providers.Embeddings.ModelID())
		} else {
			slog.Info("story archive connected", "dimensions", dims)
		}
	}

	// ── Discord announcer (optional) ──────────────────────────────────────────
	var (
		announcer   *announce.Announcer
		discordSess *discordgo.Session
	)
	if cfg.Discord.Token != "" {
		announcer, discordSess, err = announce.Connect(cfg.Discord.Token, cfg.Discord.ChannelID, logger)
		if err != nil {
			slog.Error("failed to connect Discord announcer", "err", err)
			return 1
		}
		defer discordSess.Close()
		slog.Info("discord announcer connected", "channel_id", cfg.Discord.ChannelID)
	}

	// ── Narration relay ───────────────────────────────────────────────────────
	relayOpts := []narrate.Option{narrate.WithLogger(logger)}
	if providers.TTS != nil {
		relayOpts = append(relayOpts, narrate.WithTTS(providers.TTS))
	}
	if store != nil {
		relayOpts = append(relayOpts, narrate.WithArchive(store))
		if providers.Embeddings != nil {
			relayOpts = append(relayOpts, narrate.WithEmbeddings(providers.Embeddings))
		}
	}
	if announcer != nil {
		relayOpts = append(relayOpts, narrate.WithAnnouncer(announcer))
	}

	relay, err := narrate.New(providers.LLM, session.NewStore(), relayOpts...)
	if err != nil {
		slog.Error("failed to create relay", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithDefaultVoice(tts.VoiceProfile{
			ID:       cfg.Story.Voice.VoiceID,
			Provider: cfg.Story.Voice.Provider,
		}),
	}
	if cfg.Story.Language != "" {
		serverOpts = append(serverOpts, server.WithLanguage(cfg.Story.Language))
	}
	if providers.STT != nil {
		windowed := stt.NewWindowed(providers.STT, stt.DefaultWindow, stt.DefaultOverlap)
		serverOpts = append(serverOpts, server.WithSTT(windowed))

		decoder, err := ffmpeg.NewDecoder(sttSampleRate)
		if err != nil {
			slog.Warn("ffmpeg decoder unavailable, speech uploads must be WAV", "err", err)
		} else {
			serverOpts = append(serverOpts, server.WithDecoder(decoder))
		}
	}
	if len(cfg.Story.Lexicon) > 0 {
		serverOpts = append(serverOpts, server.WithCorrector(transcript.New(cfg.Story.Lexicon)))
	}
	if providers.TTS != nil {
		serverOpts = append(serverOpts, server.WithTTS(providers.TTS))
	}
	if store != nil {
		serverOpts = append(serverOpts, server.WithArchive(store))
		if providers.Embeddings != nil {
			serverOpts = append(serverOpts, server.WithEmbeddings(providers.Embeddings))
		}
	}

	var checks []health.Check
	if store != nil {
		checks = append(checks, health.Check{Name: "archive", Probe: store.Ping})
	}
	serverOpts = append(serverOpts, server.WithHealth(health.New(checks...)))

	srv, err := server.New(relay, serverOpts...)
	if err != nil {
		slog.Error("failed to create server", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, mistral, and groq share the same pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{"openai", "anthropic", "gemini", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if format := optString(entry.Options, "format"); format != "" {
			opts = append(opts, oaitts.WithFormat(format))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Taleweave — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if cfg.Archive.PostgresDSN != "" {
		fmt.Printf("║  Archive         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Archive         : %-19s ║\n", "(disabled)")
	}
	if cfg.Discord.Token != "" {
		fmt.Printf("║  Discord         : %-19s ║\n", "connected")
	} else {
		fmt.Printf("║  Discord         : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Lexicon entries : %-19d ║\n", len(cfg.Story.Lexicon))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
