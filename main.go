package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Config string `help:"Path to YAML config file." default:"contact.yaml" type:"path"`
}

func (g *Globals) loadConfig() (*Config, error) {
	cfg, err := LoadConfig(g.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CLI is the top-level command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version." short:"V"`
	Serve   ServeCmd         `cmd:"" default:"1" help:"Run the contact relay HTTP server."`
	Form    FormCmd          `cmd:"" help:"Fill in and send the contact form interactively."`
	Send    SendCmd          `cmd:"" help:"Send a contact message without the interactive form."`
}

// ServeCmd runs the relay.
type ServeCmd struct{}

func (s *ServeCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger, err := newLogger(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("serve: logger: %w", err)
	}
	defer logger.Sync()

	gin.SetMode(cfg.Server.Mode)

	mailer, err := newMailer(cfg.Mail, logger)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := newRelayMetrics(reg)
	health := &transportHealth{}
	relay := NewRelay(mailer, cfg.Mail, metrics, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(cfg, relay, health, reg, metrics, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		verifyTransport(egCtx, mailer, health, logger)
		return nil
	})
	eg.Go(func() error {
		logger.Info("Server running", zap.String("addr", srv.Addr), zap.String("transport", cfg.Mail.Transport))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func newRouter(cfg *Config, relay *Relay, health *transportHealth, gatherer prometheus.Gatherer, metrics *relayMetrics, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestTrackingMiddleware(logger, newIPHasher(cfg.Log.HashSalt), metrics))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", requestIDHeader},
		AllowCredentials: true,
	}))

	r.POST("/api/contact", relay.HandleContact)
	setupOpsRoutes(r, health, gatherer)

	return r
}

// FormCmd opens the interactive form.
type FormCmd struct {
	RelayURL string `help:"Contact endpoint URL; overrides client.relay_url." name:"relay-url"`
}

func (f *FormCmd) Run(g *Globals) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return errors.New("form: requires a terminal (TTY); use `send` instead")
	}

	cfg, err := g.loadConfig()
	if err != nil {
		return fmt.Errorf("form: %w", err)
	}
	if f.RelayURL != "" {
		cfg.Client.RelayURL = f.RelayURL
	}

	submitter := NewSubmitter(NewRelayClient(cfg.Client.RelayURL, cfg.Client.Timeout))
	if _, err := tea.NewProgram(NewFormModel(submitter)).Run(); err != nil {
		return fmt.Errorf("form: %w", err)
	}
	return nil
}

// SendCmd submits a message from flags.
type SendCmd struct {
	Name     string `help:"Your name."`
	Email    string `help:"Your email address."`
	Subject  string `help:"Message subject."`
	Message  string `help:"Message text."`
	RelayURL string `help:"Contact endpoint URL; overrides client.relay_url." name:"relay-url"`
}

var (
	errInvalidForm      = errors.New("form has invalid fields")
	errSubmissionFailed = errors.New("submission failed")
)

func (s *SendCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if s.RelayURL != "" {
		cfg.Client.RelayURL = s.RelayURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	submitter := NewSubmitter(NewRelayClient(cfg.Client.RelayURL, cfg.Client.Timeout))
	return s.send(ctx, submitter, os.Stdout)
}

// send validates the flags like the interactive form does, then submits once.
func (s *SendCmd) send(ctx context.Context, submitter *Submitter, w io.Writer) error {
	var form ContactForm
	form.Set(FieldName, s.Name)
	form.Set(FieldEmail, s.Email)
	form.Set(FieldSubject, s.Subject)
	form.Set(FieldMessage, s.Message)
	form.TouchAll()

	if !form.Validate() {
		for _, field := range formFields {
			if msg := form.Error(field); msg != "" {
				fmt.Fprintf(w, "%s: %s\n", field, msg)
			}
		}
		return fmt.Errorf("send: %w", errInvalidForm)
	}

	note, err := submitter.Submit(ctx, form.Submission())
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Fprintln(w, note.Message)
	if note.Kind != NoticeSuccess {
		return fmt.Errorf("send: %w", errSubmissionFailed)
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("contact"),
		kong.Description("Portfolio contact relay and client."),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
