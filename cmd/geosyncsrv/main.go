package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/adapters/ckan"
	"github.com/terrado/geosyncsrv/internal/adapters/csw"
	"github.com/terrado/geosyncsrv/internal/adapters/mra"
	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/internal/apis"
	"github.com/terrado/geosyncsrv/internal/cache"
	"github.com/terrado/geosyncsrv/internal/catalogmanager"
	"github.com/terrado/geosyncsrv/internal/config"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/dbmanager"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/extractor"
	"github.com/terrado/geosyncsrv/internal/harvester"
	"github.com/terrado/geosyncsrv/internal/ingest"
	"github.com/terrado/geosyncsrv/internal/notify"
	"github.com/terrado/geosyncsrv/internal/scheduler"
	"github.com/terrado/geosyncsrv/internal/server"
	"github.com/terrado/geosyncsrv/internal/spatial"
	"github.com/terrado/geosyncsrv/internal/tasks"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func main() {
	var cfgPath string
	var debug bool
	flag.StringVar(&cfgPath, "config", "", "configuration file path")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := config.Load(cfgPath); err != nil {
		log.Warn().Err(err).Msg("configuration file not loaded, running on defaults")
	}
	cfg := config.Config()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	catalogPool, err := dbmanager.New(ctx, cfg.Database.CatalogDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("catalog store unreachable")
	}
	featurePool, err := dbmanager.New(ctx, cfg.Database.FeatureDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("feature store unreachable")
	}
	store := db.New(catalogPool)
	features := spatial.New(featurePool, cfg.Database.MapReaderRole)

	ckanManager := ckan.NewManager(cfg.Ckan.URL, cfg.Ckan.APIKey, cfg.Ckan.Timeout.Std())
	provisionCatalog(ctx, ckanManager, cfg.PartnerGroup)
	cswClient := csw.New(cfg.Csw.URL, cfg.Csw.Username, cfg.Csw.Password, cfg.Csw.Timeout.Std())
	mraClient := mra.New(cfg.Mra.URL, cfg.Mra.Username, cfg.Mra.Password, cfg.Mra.Timeout.Std())

	pipeline := ingest.NewPipeline(features, mraClient, mra.Datastore{
		Name:     cfg.Mra.Datastore.Name,
		Host:     cfg.Mra.Datastore.Host,
		Port:     cfg.Mra.Datastore.Port,
		Database: cfg.Mra.Datastore.Database,
		User:     cfg.Mra.Datastore.User,
		Password: cfg.Mra.Datastore.Password,
		Schema:   cfg.Mra.Datastore.Schema,
	}, cfg.Ingest.MaxLayers, cfg.Ingest.MaxBytes)

	hub := notify.NewHub(store, cfg.Notify.WebhookURL, 10*time.Second)

	manager := catalogmanager.New(store, ckanManager, cswClient, mraClient, features,
		pipeline, hub, catalogmanager.Options{
			PartnerGroup: cfg.PartnerGroup,
			Datastore:    cfg.Mra.Datastore.Name,
			StorageRoot:  cfg.Ckan.StorageRoot,
			ExtraCrs:     loadExtraCrs(cfg.Ingest.Proj4Lookup),
		})

	dcatFetcher, err := harvester.NewDcatFetcher(cfg.Ckan.Timeout.Std())
	if err != nil {
		log.Fatal().Err(err).Msg("dcat schema compilation failed")
	}
	harv := harvester.New(store, manager, map[types.RemoteKind]harvester.Fetcher{
		types.RemoteCkan: harvester.NewCkanFetcher(cfg.Ckan.Timeout.Std()),
		types.RemoteCsw:  harvester.NewCswFetcher(cfg.Csw.Timeout.Std()),
		types.RemoteDcat: dcatFetcher,
	}, harvester.Options{
		HarvestUser:    types.Username(cfg.Harvest.User),
		DefaultLicense: types.Slug(cfg.DefaultLicense),
		Metadata:       cswClient,
	})

	runner := tasks.NewRunner(store, cfg.Tasks.Interval.Std(), cfg.Tasks.Workers)
	runner.Register(tasks.ActionHarvest, harvestHandler(harv))
	runner.Register(tasks.ActionResourceSync,
		resourceSyncHandler(store, manager, cfg.Ckan.StorageRoot, cfg.Ckan.Timeout.Std()))
	go runner.Start(ctx)

	sched := scheduler.New(store, runner)
	go sched.Start(ctx)

	extractorSvc := extractor.New(store, cfg.Extractor.URL, cfg.Extractor.Timeout.Std(), hub)
	if cfg.Extractor.URL != "" {
		go extractorSvc.Start(ctx, cfg.Extractor.PollInterval.Std())
	}

	styleCache := cache.New(cfg.Redis.Address, "", 0, cfg.Redis.TTL.Std())
	defer styleCache.Close()

	api := apis.New(store, manager, runner, extractorSvc, mraClient, styleCache,
		apis.Options{
			Tracking:    ckanManager,
			StorageRoot: cfg.Ckan.StorageRoot,
		})
	srv := server.CreateNewServer(store, api)
	srv.MountHandlers()

	httpSrv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     srv.Router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown incomplete")
		}
	}()

	log.Info().Str("address", cfg.Server.Address).Msg("geosyncsrv listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// loadExtraCrs turns the proj.4 lookup file into supported-CRS rows matched
// by literal proj.4 string.
func loadExtraCrs(path string) []models.SupportedCrs {
	if path == "" {
		return nil
	}
	lookup, err := ingest.LoadProj4Lookup(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("proj4 lookup not loaded")
		return nil
	}
	out := make([]models.SupportedCrs, 0, len(lookup))
	for code, proj4 := range lookup {
		out = append(out, models.SupportedCrs{
			Authority:  "EPSG",
			Code:       code,
			Proj4Regex: regexp.QuoteMeta(proj4),
		})
	}
	return out
}

// provisionCatalog ensures the remote structures the sync paths assume: the
// partner group and the update_frequency tag vocabulary. Failures are logged
// and retried on the next start.
func provisionCatalog(ctx context.Context, m *ckan.Manager, partnerGroup string) {
	if _, err := m.CreateGroup(ctx, partnerGroup, "Partners"); err != nil &&
		!errors.Is(err, remote.ErrConflict) && !errors.Is(err, remote.ErrValidationRejected) {
		log.Warn().Err(err).Str("group", partnerGroup).Msg("partner group not provisioned")
	}
	if err := m.EnsureTagVocabulary(ctx, "update_frequency", types.UpdateFrequencies()); err != nil {
		log.Warn().Err(err).Msg("update_frequency vocabulary not provisioned")
	}
}
