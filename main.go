// Package main provides the entry point for the bookvoice CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/bookvoice/bookvoice/internal/audio"
	"github.com/bookvoice/bookvoice/internal/book"
	"github.com/bookvoice/bookvoice/internal/broadcast"
	"github.com/bookvoice/bookvoice/internal/cloud"
	"github.com/bookvoice/bookvoice/internal/mediasession"
	"github.com/bookvoice/bookvoice/internal/mpris"
	"github.com/bookvoice/bookvoice/internal/observe"
	"github.com/bookvoice/bookvoice/internal/playback"
	"github.com/bookvoice/bookvoice/internal/progress"
	"github.com/bookvoice/bookvoice/internal/speech"
	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/bookvoice/bookvoice/internal/voices"
	"github.com/bookvoice/bookvoice/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	remote     bool
	startLine  int
	opts       settings

	rootCmd = &cobra.Command{
		Use:   "bookvoice [FILE|BOOK-ID]",
		Short: "Listen to books in the terminal, line by line",
		Long: paragraph(
			fmt.Sprintf("\nRead books aloud %s, with on-device or cloud voices.", keyword("line by line")),
		),
		Example: paragraph("bookvoice moby-dick.txt\nbookvoice --voice cloud:nova --remote 42"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// a broken config must stay editable
			if name := cmd.Name(); name == "config" || name == "man" {
				return nil
			}
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// settings are the resolved configuration values.
type settings struct {
	voiceType ttypes.VoiceType
	voiceID   string
	rate      float64
	lang      string
	pageSize  int

	cloudURL      string
	cloudResource string
	cloudRPM      int

	espeakBinary string
	keepAlive    time.Duration

	resumeDelay  time.Duration
	keepAliveCue bool

	progressFile string
	natsURL      string
	natsSubject  string
	mpris        bool
}

func loadSettings(v *viper.Viper) (settings, error) {
	s := settings{
		voiceID:       v.GetString("voice.id"),
		rate:          v.GetFloat64("rate"),
		lang:          v.GetString("lang"),
		pageSize:      v.GetInt("page_size"),
		cloudURL:      v.GetString("cloud.base_url"),
		cloudResource: v.GetString("cloud.resource"),
		cloudRPM:      v.GetInt("cloud.requests_per_minute"),
		espeakBinary:  v.GetString("speech.binary"),
		keepAlive:     v.GetDuration("speech.keepalive_interval"),
		resumeDelay:   v.GetDuration("playback.resume_delay"),
		keepAliveCue:  v.GetBool("playback.keepalive_cue"),
		progressFile:  v.GetString("progress.file"),
		natsURL:       v.GetString("nats.url"),
		natsSubject:   v.GetString("nats.subject"),
		mpris:         v.GetBool("mpris.enabled"),
	}

	// --voice accepts "type:id" as a shorthand
	voice := v.GetString("voice.type")
	if typ, id, ok := strings.Cut(voice, ":"); ok {
		voice, s.voiceID = typ, id
	}
	typ, err := ttypes.ParseVoiceType(voice)
	if err != nil {
		return settings{}, err
	}
	s.voiceType = typ

	if s.rate < 0.5 || s.rate > 3.0 {
		return settings{}, fmt.Errorf("rate must be between 0.5 and 3.0, got %.2f", s.rate)
	}
	if s.pageSize <= 0 {
		return settings{}, fmt.Errorf("page_size must be positive, got %d", s.pageSize)
	}
	if s.cloudRPM < 0 {
		return settings{}, fmt.Errorf("cloud.requests_per_minute must not be negative, got %d", s.cloudRPM)
	}
	if s.keepAlive == 0 {
		// an explicit zero turns the pulse off
		s.keepAlive = -1
	}
	if s.voiceType == ttypes.VoiceCloud && s.cloudURL == "" {
		return settings{}, errors.New("cloud voices need cloud.base_url")
	}

	for _, p := range []*string{&s.espeakBinary, &s.progressFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return settings{}, fmt.Errorf("unable to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return s, nil
}

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config %s: %w", configFile, err)
		}
	}
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	s, err := loadSettings(viper.GetViper())
	if err != nil {
		return err
	}
	opts = s
	return nil
}

// openBook resolves the argument to a pagination source. Local files are
// split into lines up front; --remote treats the argument as a book id on
// the cloud service.
func openBook(ctx context.Context, arg string) (book.Source, book.Info, error) {
	if remote {
		if opts.cloudURL == "" {
			return nil, book.Info{}, errors.New("--remote needs cloud.base_url")
		}
		src := book.NewHTTPSource(opts.cloudURL, opts.cloudResource, nil)
		info, err := src.Info(ctx, arg)
		if err != nil {
			return nil, book.Info{}, fmt.Errorf("unable to fetch book: %w", err)
		}
		return src, info, nil
	}

	path, err := homedir.Expand(arg)
	if err != nil {
		return nil, book.Info{}, err
	}
	src := book.NewFileSource()
	info, err := src.Open(path)
	if err != nil {
		return nil, book.Info{}, err
	}
	return src, info, nil
}

// pickVoice returns the configured voice, falling back to the first voice
// of the configured type when no id is set.
func pickVoice(options []ttypes.VoiceOption, typ ttypes.VoiceType, id string) *ttypes.VoiceOption {
	if id != "" {
		if v, ok := voices.Lookup(options, typ, id); ok {
			return &v
		}
		return nil
	}
	for _, v := range options {
		if v.Type == typ && v.Enabled {
			return &v
		}
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec
		return errors.New("bookvoice needs a terminal")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.Default()

	src, info, err := openBook(ctx, args[0])
	if err != nil {
		return err
	}
	log.Info("opened book", "id", info.ID, "title", info.Title)

	synth, err := speech.NewESpeak(opts.espeakBinary, logger)
	if err != nil {
		return fmt.Errorf("unable to find espeak-ng: %w", err)
	}
	catalog := voices.New(synth)

	var (
		output    *audio.Context
		session   *mpris.Player
		publisher *broadcast.Publisher
		store     *progress.Store
		options   []ttypes.VoiceOption
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := audio.NewContext(audio.DefaultPlayerConfig(), logger)
		if err != nil {
			return fmt.Errorf("unable to open audio output: %w", err)
		}
		output = c
		return nil
	})
	g.Go(func() error {
		var err error
		if options, err = catalog.All(gctx, opts.lang); err != nil {
			log.Warn("unable to list system voices", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		path := opts.progressFile
		if path == "" {
			var err error
			if path, err = progress.DefaultPath(); err != nil {
				log.Warn("progress disabled", "error", err)
				return nil
			}
		}
		s, err := progress.Open(path, 0, logger)
		if err != nil {
			log.Warn("progress disabled", "error", err)
			return nil
		}
		store = s
		return nil
	})
	if opts.mpris {
		g.Go(func() error {
			p, err := mpris.Connect("bookvoice", logger)
			if err != nil {
				log.Warn("media controls unavailable", "error", err)
				return nil
			}
			session = p
			return nil
		})
	}
	if opts.natsURL != "" {
		g.Go(func() error {
			p, err := broadcast.Connect(opts.natsURL, opts.natsSubject, logger)
			if err != nil {
				log.Warn("event broadcast disabled", "error", err)
				return nil
			}
			publisher = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Playback
	player := output.NewPlayer()
	defer player.Close() //nolint:errcheck

	speaker := speech.NewAdapter(synth, speech.Config{KeepAliveInterval: opts.keepAlive}, logger)
	cloudAdapter := cloud.NewAdapter(player, cloud.Config{
		BaseURL:           opts.cloudURL,
		Resource:          opts.cloudResource,
		RequestsPerMinute: opts.cloudRPM,
		SampleRate:        output.Config().SampleRate,
		Channels:          output.Config().Channels,
	}, logger)

	var cue playback.Cue
	if opts.keepAliveCue {
		cue = output.NewCue(audio.DefaultCueVolume)
	}

	var bridgeSession mediasession.Session
	if session != nil {
		bridgeSession = session
		defer session.Close() //nolint:errcheck
	}

	provider := observe.InitProvider()
	metrics, err := observe.NewDefaultMetrics()
	if err != nil {
		return fmt.Errorf("unable to create metrics: %w", err)
	}

	events := ui.NewEvents()
	listeners := playback.Listeners{events}
	if publisher != nil {
		publisher.SetBook(info.ID)
		listeners = append(listeners, publisher)
		defer publisher.Close() //nolint:errcheck
	}

	engine := playback.New(playback.Options{
		Speech:      speaker,
		Cloud:       cloudAdapter,
		Cue:         cue,
		Bridge:      mediasession.NewBridge(bridgeSession, logger),
		Catalog:     catalog,
		Listener:    listeners,
		Observer:    metrics,
		ResumeDelay: opts.resumeDelay,
		Logger:      logger,
	})

	// Reader
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	cfg.BookID = info.ID
	cfg.Title = info.Title
	cfg.Author = info.Author
	cfg.Lang = opts.lang
	cfg.Rate = opts.rate
	cfg.PageSize = opts.pageSize
	cfg.Voices = options
	cfg.Voice = pickVoice(options, opts.voiceType, opts.voiceID)
	if cfg.Voice == nil {
		log.Warn("configured voice not available", "type", opts.voiceType, "id", opts.voiceID)
	}
	cfg.StartLine = resumeLine(cmd, store, info.ID)

	deps := ui.Deps{Player: engine, Source: src, Events: events}
	if store != nil {
		deps.Progress = store
	}
	p := ui.NewProgram(cfg, deps)

	// live config changes
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s, err := loadSettings(viper.GetViper())
		if err != nil {
			log.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		log.Debug("config changed", "file", e.Name, "rate", s.rate, "voice", s.voiceType)
		p.Send(ui.SettingsMsg{Rate: s.rate, Voice: pickVoice(options, s.voiceType, s.voiceID)})
	})
	if viper.ConfigFileUsed() != "" {
		viper.WatchConfig()
	}

	_, runErr := p.Run()

	if err := engine.Close(); err != nil {
		log.Debug("engine close", "error", err)
	}
	if store != nil {
		if err := store.Save(); err != nil {
			log.Error("unable to save progress", "path", store.Path(), "error", err)
		}
	}
	logMetrics(provider)

	if runErr != nil {
		return fmt.Errorf("unable to run tui program: %w", runErr)
	}
	return nil
}

// resumeLine returns the stored line, unless --line was given or the book
// was finished.
func resumeLine(cmd *cobra.Command, store *progress.Store, bookID string) int {
	if cmd.Flags().Changed("line") {
		return max(startLine-1, 0)
	}
	if store == nil {
		return 0
	}
	e, ok := store.Get(bookID)
	if !ok || e.Completed != nil {
		return 0
	}
	return e.Line
}

func logMetrics(provider *observe.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	defer provider.Shutdown(ctx) //nolint:errcheck

	summary, err := provider.Summary(ctx)
	if err != nil {
		log.Debug("unable to collect metrics", "error", err)
		return
	}
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	kv := make([]interface{}, 0, 2*len(names))
	for _, name := range names {
		kv = append(kv, name, summary[name])
	}
	log.Debug("playback metrics", kv...)
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().String("lang", "en", "language of the book (BCP 47)")
	rootCmd.PersistentFlags().Bool("debug", false, "write debug logs")
	rootCmd.Flags().String("voice", "system", `voice as "system", "cloud" or "type:id"`)
	rootCmd.Flags().Float64P("rate", "r", 1.0, "speech rate (0.5 to 3.0)")
	rootCmd.Flags().IntVarP(&startLine, "line", "l", 1, "start at this line instead of the saved position")
	rootCmd.Flags().BoolVar(&remote, "remote", false, "treat the argument as a book id on the cloud service")
	rootCmd.Flags().String("cloud-url", "", "base URL of the cloud audio service")
	rootCmd.Flags().String("nats-url", "", "publish playback events to this NATS server")
	rootCmd.Flags().Bool("no-mpris", false, "do not register desktop media controls")

	// Config bindings
	_ = viper.BindPFlag("lang", rootCmd.PersistentFlags().Lookup("lang"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("voice.type", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("cloud.base_url", rootCmd.Flags().Lookup("cloud-url"))
	_ = viper.BindPFlag("nats.url", rootCmd.Flags().Lookup("nats-url"))
	cobra.OnInitialize(func() {
		if rootCmd.Flags().Changed("no-mpris") {
			viper.Set("mpris.enabled", false)
		}
	})

	setDefaults(viper.GetViper())

	rootCmd.AddCommand(configCmd, manCmd, voicesCmd)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("voice.type", "system")
	v.SetDefault("voice.id", "")
	v.SetDefault("rate", 1.0)
	v.SetDefault("lang", "en")
	v.SetDefault("page_size", book.DefaultPageSize)
	v.SetDefault("cloud.resource", cloud.DefaultResource)
	v.SetDefault("cloud.requests_per_minute", 120)
	v.SetDefault("speech.keepalive_interval", speech.DefaultKeepAliveInterval)
	v.SetDefault("playback.resume_delay", playback.DefaultResumeDelay)
	v.SetDefault("playback.keepalive_cue", true)
	v.SetDefault("nats.subject", broadcast.DefaultSubject)
	v.SetDefault("mpris.enabled", true)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "bookvoice")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "bookvoice")}, dirs...)
	}

	if c := os.Getenv("BOOKVOICE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("bookvoice")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("bookvoice")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "bookvoice.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
