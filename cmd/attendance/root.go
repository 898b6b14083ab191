package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/enroll"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/recognition"
	"face-attendance-go/internal/core/report"
	"face-attendance-go/internal/db"
	"face-attendance-go/internal/db/repository"
	"face-attendance-go/internal/integrations/dlib"
	"face-attendance-go/internal/logger"
	"face-attendance-go/internal/util/timezone"

	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Version ist die Programmversion
const Version = "0.1.0"

// application hält den für alle Unterbefehle gemeinsamen Zustand
type application struct {
	configPath string
	cfg        *config.Config
	loc        *time.Location
	logCloser  io.Closer
	gdb        *gorm.DB
}

var app = &application{}

var rootCmd = &cobra.Command{
	Use:           "attendance",
	Short:         "Camera based face recognition attendance",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(app.configPath)
		if err != nil {
			return err
		}
		app.cfg = cfg
		closer, err := logger.Init(cfg.Log)
		if err != nil {
			log.Errorf("Failed to initialize logger completely: %v", err)
		}
		app.logCloser = closer
		app.loc = timezone.Initialize(cfg.Server.Timezone)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.configPath, "config", "c", "config.yaml", "path to the YAML configuration")
	rootCmd.AddCommand(enrollCmd, forgetCmd, checkinCmd, personsCmd, reportCmd, runCmd)
}

// store öffnet den Event-Store einmal pro Prozess
func (a *application) store() (repository.Repository, error) {
	if a.gdb == nil {
		gdb, err := db.Open(a.cfg.DB)
		if err != nil {
			return nil, err
		}
		a.gdb = gdb
	}
	return repository.NewGormRepository(a.gdb), nil
}

func (a *application) close() {
	if a.gdb != nil {
		if err := db.Close(a.gdb); err != nil {
			log.Warnf("Failed to close database: %v", err)
		}
		a.gdb = nil
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// galleryShape liefert Variante und Dimension der Galerie, ohne Modelle zu laden
func (a *application) galleryShape() (recognition.Kind, int, error) {
	kind, err := recognition.ParseKind(a.cfg.Recognition.Embedder)
	if err != nil {
		return 0, 0, err
	}
	if kind == recognition.KindDescriptor {
		return kind, dlib.DescriptorDim, nil
	}
	labels, err := recognition.LoadLabels(a.cfg.Recognition.ClassifierLabels)
	if err != nil {
		return 0, 0, failure.New(failure.ModelUnavailable, "galleryShape", err)
	}
	return kind, len(labels), nil
}

// loadGallery lädt die Galerie passend zur Konfiguration, ohne verwaiste Einträge
func (a *application) loadGallery(ctx context.Context, repo repository.Repository) (*recognition.Gallery, error) {
	kind, dim, err := a.galleryShape()
	if err != nil {
		return nil, err
	}
	return enroll.OpenGallery(ctx, repo, a.cfg.Recognition.GalleryFile, kind, dim)
}

func (a *application) reportOptions() report.Options {
	return report.Options{
		Location:         a.loc,
		WorkStartHour:    a.cfg.Attendance.WorkStartHour,
		WorkStartMinute:  a.cfg.Attendance.WorkStartMinute,
		LateGraceMinutes: a.cfg.Attendance.LateGraceMinutes,
	}
}

func (a *application) reportFormat(flag string) (report.Format, error) {
	if flag == "" {
		flag = a.cfg.Report.Format
	}
	f, err := report.ParseFormat(flag)
	if err != nil {
		return "", fmt.Errorf("invalid --format: %w", err)
	}
	return f, nil
}
