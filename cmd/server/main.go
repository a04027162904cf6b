package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/instrument-catalog/backend/internal/api"
	"github.com/instrument-catalog/backend/internal/config"
	"github.com/instrument-catalog/backend/internal/detector"
	"github.com/instrument-catalog/backend/internal/extractor"
	"github.com/instrument-catalog/backend/internal/fileindex"
	"github.com/instrument-catalog/backend/internal/instruments"
	"github.com/instrument-catalog/backend/internal/metacache"
	"github.com/instrument-catalog/backend/internal/session"
	"github.com/instrument-catalog/backend/internal/storage"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "InstrumentCatalog.config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	// Instrument registry
	registry, err := instruments.Load(cfg.Storage.InstrumentsFile)
	if err != nil {
		fmt.Printf("Failed to load instrument registry: %v\n", err)
		os.Exit(1)
	}

	// File index
	index, err := fileindex.Open(cfg.Storage.IndexDatabase)
	if err != nil {
		fmt.Printf("Failed to open file index: %v\n", err)
		os.Exit(1)
	}
	defer index.Close()

	// Record storage
	store, err := storage.NewLocalStore(cfg.Storage.RecordsDirectory)
	if err != nil {
		fmt.Printf("Failed to initialize record storage: %v\n", err)
		os.Exit(1)
	}

	// Metadata extraction with a msgpack cache in front
	cache, err := metacache.NewCache(cfg.Storage.CacheDirectory)
	if err != nil {
		fmt.Printf("Failed to initialize metadata cache: %v\n", err)
		os.Exit(1)
	}
	ext := metacache.NewCachingExtractor(extractor.SidecarExtractor{}, cache,
		log.New(os.Stdout, "[metacache] ", log.LstdFlags))

	builder := &session.Builder{
		Index:     index,
		Extractor: ext,
		Detector: &detector.Detector{
			GridSize:          cfg.Detection.BandwidthGridSize,
			DensityMultiplier: cfg.Detection.DensityMultiplier,
			Workers:           cfg.Detection.Workers,
			Logger:            log.New(os.Stdout, "[detector] ", log.LstdFlags),
		},
		Reservations: session.StaticReservations{},
		Logger:       log.New(os.Stdout, "[session] ", log.LstdFlags),
	}
	sessionMgr := session.NewManager(builder, store)

	// Start background session cleanup
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			sessionMgr.CleanupOldSessions(session.SessionMaxAge)
		}
	}()

	h := api.NewHandler(registry, sessionMgr, store, index)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	api.RegisterRoutes(e, h)

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Instrument Catalog Server                       ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:     %-44s║\n", Version)
	fmt.Printf("║  Build Time:  %-44s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:      %-44s║\n", configPath)
	fmt.Printf("║  Listen:      http://%-37s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Instruments: %-44d║\n", len(registry.List()))
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	e.Logger.Fatal(e.StartServer(s))
}
