package main

import (
	"context"
	"time"

	"face-attendance-go/internal/api/handlers"
	"face-attendance-go/internal/api/middleware"
	"face-attendance-go/internal/core/attendance"
	"face-attendance-go/internal/core/enroll"
	"face-attendance-go/internal/core/models"
	"face-attendance-go/internal/core/processor"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/report"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/homeassistant"
	"face-attendance-go/internal/integrations/mqtt"
	"face-attendance-go/internal/integrations/opencv"
	"face-attendance-go/internal/integrations/provider"
	"face-attendance-go/internal/server"
	"face-attendance-go/internal/server/sse"
	"face-attendance-go/internal/services"
	"face-attendance-go/internal/services/cleanup"
	"face-attendance-go/internal/services/scheduler"
	"face-attendance-go/internal/services/snapshot"
	"face-attendance-go/internal/util/timezone"

	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"
)

var runOpts struct {
	preview bool
	serve   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the attendance pipeline until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOpts.preview, "preview", false, "show the annotated camera image in a window")
	runCmd.Flags().BoolVar(&runOpts.serve, "serve", false, "serve the HTTP API, SSE stream and preview")
}

func runPipeline(ctx context.Context) error {
	cfg := app.cfg
	loc := app.loc

	repo, err := app.store()
	if err != nil {
		return err
	}
	persons, err := repo.ListPersons(ctx)
	if err != nil {
		return err
	}

	loaded, err := provider.Load(cfg)
	if err != nil {
		return err
	}
	defer loaded.Close()

	gallery, err := enroll.OpenGallery(ctx, repo, cfg.Recognition.GalleryFile, loaded.Embedder.Kind(), loaded.Embedder.Dim())
	if err != nil {
		return err
	}
	defer func() {
		if saved, err := gallery.SaveIfDirty(cfg.Recognition.GalleryFile); err != nil {
			log.Errorf("Failed to save gallery: %v", err)
		} else if saved {
			log.Info("Gallery saved")
		}
	}()
	matcher := recognition.NewMatcher(gallery, cfg.Recognition.Tolerance, cfg.Recognition.ConfidenceThreshold)

	svc := attendance.NewService(repo, cfg.Attendance, loc)

	// Benachrichtigungen: SSE immer, MQTT/Home Assistant optional
	hub := sse.NewHub(loc)
	go hub.Run(ctx)
	targets := []attendance.Notifier{hub}
	if cfg.MQTT.Enabled {
		client := startMQTT(persons)
		defer client.Stop()
		publisher := homeassistant.NewPublisher(client, loc)
		publisher.StartResetTimer(ctx)
		client.OnConnect(func() {
			if roster, err := svc.Roster(context.Background()); err == nil {
				publisher.PublishRoster(roster)
			} else {
				log.Warnf("Failed to publish roster: %v", err)
			}
		})
		targets = append(targets, publisher)
	}
	notifier := services.NewNotifierService(cfg.Pipeline.QueueCapacity, targets...)
	notifier.Start()
	defer notifier.Stop()

	var snapshots attendance.SnapshotStore
	if cfg.Attendance.SaveSnapshots {
		snapshots = snapshot.NewStore(repo, cfg.Attendance, loc)
	}
	recorder := attendance.NewRecorder(svc, snapshots, notifier)
	writer := processor.NewEventWriter(recorder, processor.WriterOptions{
		Capacity:   cfg.Pipeline.QueueCapacity,
		MaxRetries: cfg.Pipeline.MaxRetries,
		RetryBase:  time.Duration(cfg.Pipeline.RetryBaseMs) * time.Millisecond,
	})

	camera, err := opencv.OpenCamera(cfg.Camera)
	if err != nil {
		return err
	}
	frames := processor.NewFrameQueue(cfg.Pipeline.PreviewQueue)
	coordinator, err := processor.NewCoordinator(camera, loaded.Locator, loaded.Embedder, matcher, writer, frames, processor.OptionsFromConfig(cfg))
	if err != nil {
		camera.Close()
		return err
	}

	sched := startScheduler(repo)
	if sched != nil {
		defer sched.Stop()
	}

	display := &opencv.Display{OnStop: coordinator.Stop}
	if runOpts.preview {
		display.Window = opencv.NewWindow("face-attendance")
	}
	if runOpts.serve {
		display.Preview = opencv.NewPreviewService(cfg.Server.PreviewFrames)
		srv, err := newHTTPServer(repo, svc, recorder, gallery, hub, coordinator, writer, sched, display.Preview)
		if err != nil {
			camera.Close()
			return err
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Errorf("HTTP server stopped: %v", err)
				coordinator.Stop()
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- coordinator.Run(ctx)
	}()

	// blockiert im Haupt-Thread, bis der Koordinator die Frame-Queue schließt
	display.Run(frames.C())
	err = <-errCh

	ws := writer.Stats()
	log.Infof("Event writer: enqueued %d, written %d, dropped %d, failed %d",
		ws.Enqueued, ws.Written, ws.Dropped, ws.Failed)
	return err
}

// startMQTT verbindet den Broker und meldet die Personen per Discovery an
func startMQTT(persons []models.Person) *mqtt.Client {
	cfg := app.cfg.MQTT
	client := mqtt.NewClient(cfg)
	if cfg.HomeAssistant.Enabled {
		discovery := homeassistant.NewDiscoveryManager(client, cfg.HomeAssistant.DiscoveryPrefix)
		client.OnConnect(func() {
			if err := discovery.RegisterPersons(persons); err != nil {
				log.Warnf("Home Assistant discovery incomplete: %v", err)
			}
		})
	}
	if err := client.Start(); err != nil {
		log.Warnf("Continuing without MQTT: %v", err)
	}
	return client
}

// startScheduler registriert Tagesbericht und Bereinigung; nil, wenn deaktiviert
func startScheduler(repo repository.Repository) *scheduler.Scheduler {
	cfg := app.cfg
	if !cfg.Scheduler.Enabled {
		return nil
	}
	sched := scheduler.NewScheduler(app.loc)

	format, err := report.ParseFormat(cfg.Report.Format)
	if err != nil {
		format = report.FormatCSV
	}
	reporter := report.NewReporter(repo, app.reportOptions())
	if err := sched.AddJob("daily_report", cfg.Scheduler.DailyReportCron,
		scheduler.DailyReportTask(reporter, cfg.Report.OutputDir, format, nil)); err != nil {
		log.Errorf("Failed to schedule daily report: %v", err)
	}

	cleaner := cleanup.NewCleanupService(repo, cfg.Cleanup, cfg.Attendance.SnapshotDir)
	if err := sched.AddJob("cleanup", cfg.Scheduler.CleanupCron, scheduler.CleanupTask(cleaner)); err != nil {
		log.Errorf("Failed to schedule cleanup: %v", err)
	}

	sched.Start()
	return sched
}

func newHTTPServer(repo repository.Repository, svc *attendance.Service, recorder *attendance.Recorder, gallery *recognition.Gallery, hub *sse.Hub,
	coordinator *processor.Coordinator, writer *processor.EventWriter, sched *scheduler.Scheduler, preview *opencv.PreviewService) (*server.Server, error) {

	translator, err := middleware.NewTranslator(app.cfg.Server.DefaultLanguage)
	if err != nil {
		return nil, err
	}
	status := &handlers.StatusHandler{
		DataDir:   app.cfg.Server.DataDir,
		Pipeline:  coordinator,
		Writer:    writer,
		SSEClient: hub.ClientCount,
		Ping:      repo.Ping,
		Today: func(ctx context.Context) (models.Statistics, error) {
			start, end := timezone.DayBounds(time.Now(), app.loc)
			return repo.GetStatistics(ctx, start, end)
		},
	}
	if sched != nil {
		status.Jobs = sched.Jobs
	}
	reporter := report.NewReporter(repo, app.reportOptions())
	api := handlers.NewAPIHandler(repo, svc, reporter, recorder, gallery, status)
	return server.New(app.cfg.Server, translator, api, hub, preview), nil
}
