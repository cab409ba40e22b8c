package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/cardsnap/internal/capture"
	"github.com/zombor/cardsnap/internal/card"
	"github.com/zombor/cardsnap/internal/contact"
	"github.com/zombor/cardsnap/internal/scanning"
	"github.com/zombor/cardsnap/internal/vcard"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", "error", err)
	}

	fs := ff.NewFlagSet("cardsnap")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		scannerType    = fs.StringLong("scanner", "gemini", "Extraction backend: 'gemini', 'ollama' or 'openai'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		openaiURL      = fs.StringLong("openai-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		openaiKey      = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel    = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		schemaVariant  = fs.StringLong("schema-variant", "auto", "Response schema: 'combined', 'split' or 'auto'")
		displayName    = fs.BoolLong("display-name", "Keep a single display name instead of splitting first/last")
		cameraURL      = fs.StringLong("camera-url", "", "Snapshot URL of a network camera (optional; upload-only when empty)")
		extractTimeout = fs.DurationLong("extract-timeout", scanning.DefaultTimeout, "Timeout for a single extraction")
		idleTimeout    = fs.DurationLong("idle-timeout", 30*time.Minute, "Close sessions idle for this long (0 disables)")
		foldLines      = fs.BoolLong("fold-lines", "Fold vCard lines longer than 75 octets")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		scanPath       = fs.StringLong("scan", "", "Scan this card photo once and write contact.vcf instead of serving")
		outDir         = fs.StringLong("out", ".", "Output directory for --scan")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CARDSNAP"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	variant, err := scanning.ParseVariant(*schemaVariant)
	if err != nil {
		slog.Error("Invalid schema variant", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Initialize model backend based on type
	var model scanning.Model
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini backend...", "model", *geminiModel)
		model, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama backend...", "url", *ollamaURL, "model", *ollamaModel)
		model, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "openai":
		slog.Info("Initializing OpenAI backend...", "url", *openaiURL, "model", *openaiModel)
		model = scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:  *openaiKey,
			BaseURL: *openaiURL,
			Model:   *openaiModel,
			Timeout: *extractTimeout,
		}, slog.Default())
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, ollama or openai")
		os.Exit(1)
	}

	extractor, err := scanning.NewClient(model, variant, *extractTimeout)
	if err != nil {
		slog.Error("Failed to initialize extractor", "error", err)
		os.Exit(1)
	}

	slog.Info("Extractor ready", "backend", *scannerType, "variant", extractor.Variant(), "timeout", *extractTimeout)

	device := cameraDevice(*cameraURL, *scanPath != "")

	service := card.NewService(device, extractor,
		contact.Reconciler{DisplayNameOnly: *displayName},
		vcard.Serializer{FoldLines: *foldLines},
	)
	defer service.Close()

	if *scanPath != "" {
		if err := scanOnce(ctx, service, *scanPath, *outDir); err != nil {
			slog.Error("Scan failed", "path", *scanPath, "error", err)
			os.Exit(1)
		}
		return
	}

	// Initialize server
	basicAuth := card.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := card.NewServer(service, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	if *idleTimeout > 0 {
		go reapIdle(service, *idleTimeout)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// minReapInterval bounds how often idle sessions are checked
const minReapInterval = time.Second

// cameraDevice returns the network camera, or nil when none is configured or
// a one-shot scan only reads a file
func cameraDevice(url string, oneShot bool) capture.Device {
	if url == "" || oneShot {
		return nil
	}
	slog.Info("Using network camera", "url", url)
	return capture.NewSnapshotCamera(url, &http.Client{Timeout: 10 * time.Second})
}

// reapInterval checks twice per idle period, but not more than once a second
func reapInterval(maxIdle time.Duration) time.Duration {
	return max(maxIdle/2, minReapInterval)
}

// reapIdle periodically closes abandoned sessions so their cameras are released
func reapIdle(service *card.Service, maxIdle time.Duration) {
	ticker := time.NewTicker(reapInterval(maxIdle))
	defer ticker.Stop()
	for range ticker.C {
		service.CloseIdle(maxIdle)
	}
}

// scanOnce runs the file-input pipeline on one photo and writes contact.vcf
func scanOnce(ctx context.Context, service *card.Service, path, outDir string) error {
	img, err := capture.ReadFile(ctx, path)
	if err != nil {
		return err
	}

	session := service.CreateSession(ctx)
	defer service.CloseSession(session.ID())

	record, err := session.CaptureImage(ctx, img)
	if err != nil {
		return err
	}
	slog.Info("Contact extracted", "first_name", record.FirstName, "last_name", record.LastName, "organization", record.Organization)

	doc, err := session.Export()
	if err != nil {
		return err
	}

	storage, err := card.NewLocalStorage(outDir)
	if err != nil {
		return err
	}
	written, err := storage.Save(doc.Filename, []byte(doc.Body))
	if err != nil {
		return err
	}
	fmt.Println(written)
	return nil
}
