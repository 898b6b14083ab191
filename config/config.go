package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"face-attendance-go/internal/core/failure"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix ist das Präfix für Umgebungsvariablen (FACE_ATTENDANCE_PIPELINE_CONFIRM_WINDOW usw.)
const EnvPrefix = "FACE_ATTENDANCE"

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	DB          DBConfig          `mapstructure:"db"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Attendance  AttendanceConfig  `mapstructure:"attendance"`
	Report      ReportConfig      `mapstructure:"report"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Cleanup     CleanupConfig     `mapstructure:"cleanup"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host            string `mapstructure:"host" validate:"required"`
	Port            int    `mapstructure:"port" validate:"min=1,max=65535"`
	DataDir         string `mapstructure:"data_dir" validate:"required"`
	Timezone        string `mapstructure:"timezone"`
	SessionSecret   string `mapstructure:"session_secret" validate:"min=16"`
	DefaultLanguage string `mapstructure:"default_language" validate:"oneof=en de"`
	PreviewFrames   int    `mapstructure:"preview_frames" validate:"min=1"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen. StoreURL ist entweder ein
// SQLite-Dateipfad oder eine postgres:// URL.
type DBConfig struct {
	StoreURL     string `mapstructure:"store_url" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"min=1"`
}

// CameraConfig wählt die Kamera aus
type CameraConfig struct {
	ID           int `mapstructure:"id" validate:"min=0"`
	Width        int `mapstructure:"width" validate:"min=0"`
	Height       int `mapstructure:"height" validate:"min=0"`
	MaxBadFrames int `mapstructure:"max_bad_frames" validate:"min=1"`
}

// PipelineConfig steuert Takt, Bestätigung und Schreib-Queue der Pipeline
type PipelineConfig struct {
	ProcessEveryNFrames    int     `mapstructure:"process_every_n_frames" validate:"min=1"`
	ConfirmWindow          int     `mapstructure:"confirm_window" validate:"min=1"`
	ExpireMs               int     `mapstructure:"expire_ms" validate:"min=1"`
	TrackIoU               float64 `mapstructure:"track_iou" validate:"gt=0,lte=1"`
	ObserveIntervalSeconds int     `mapstructure:"observe_interval_seconds" validate:"min=0"`
	QueueCapacity          int     `mapstructure:"queue_capacity" validate:"min=1"`
	DrainTimeoutSeconds    int     `mapstructure:"drain_timeout_seconds" validate:"min=0"`
	MaxRetries             int     `mapstructure:"max_retries" validate:"min=0"`
	RetryBaseMs            int     `mapstructure:"retry_base_ms" validate:"min=1"`
	PreviewQueue           int     `mapstructure:"preview_queue" validate:"min=1"`
}

// DetectorConfig enthält die Einstellungen für den Gesichtsdetektor
type DetectorConfig struct {
	MinFacePx   int     `mapstructure:"min_face_px" validate:"min=1"`
	CollapseIoU float64 `mapstructure:"collapse_iou" validate:"gt=0,lte=1"`
	Confidence  float64 `mapstructure:"confidence" validate:"gte=0,lte=1"`
	ModelPath   string  `mapstructure:"model_path"`
	ConfigPath  string  `mapstructure:"config_path"`
	CascadePath string  `mapstructure:"cascade_path"`
	UseGPU      bool    `mapstructure:"use_gpu"`
}

// RecognitionConfig wählt Embedder und Matcher-Schwellen
type RecognitionConfig struct {
	Embedder            string  `mapstructure:"embedder" validate:"oneof=descriptor classifier"`
	Tolerance           float64 `mapstructure:"tolerance" validate:"gt=0,lte=2"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"gt=0,lte=1"`
	GalleryFile         string  `mapstructure:"gallery_file" validate:"required"`
	DescriptorModelDir  string  `mapstructure:"descriptor_model_dir"`
	ClassifierModel     string  `mapstructure:"classifier_model"`
	ClassifierLabels    string  `mapstructure:"classifier_labels"`
	ClassifierInputSize int     `mapstructure:"classifier_input_size" validate:"min=1"`
	CropMargin          float64 `mapstructure:"crop_margin" validate:"gte=0,lte=1"`
}

// AttendanceConfig enthält die Anwesenheitsregeln
type AttendanceConfig struct {
	MinRecordConfidence float64 `mapstructure:"min_record_confidence" validate:"gte=0,lte=1"`
	MinSessionSeconds   int     `mapstructure:"min_session_seconds" validate:"min=0"`
	WorkStartHour       int     `mapstructure:"work_start_hour" validate:"min=0,max=23"`
	WorkStartMinute     int     `mapstructure:"work_start_minute" validate:"min=0,max=59"`
	LateGraceMinutes    int     `mapstructure:"late_grace_minutes" validate:"min=0"`
	SaveSnapshots       bool    `mapstructure:"save_snapshots"`
	SnapshotDir         string  `mapstructure:"snapshot_dir"`
	SnapshotFormat      string  `mapstructure:"snapshot_format" validate:"oneof=jpg webp"`
	SnapshotQuality     int     `mapstructure:"snapshot_quality" validate:"min=1,max=100"`
}

// ReportConfig enthält Einstellungen für Berichte
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir" validate:"required"`
	Format    string `mapstructure:"format" validate:"oneof=csv xlsx json"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker" validate:"required_if=Enabled true"`
	Port          int                 `mapstructure:"port" validate:"min=1,max=65535"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	TopicPrefix   string              `mapstructure:"topic_prefix" validate:"required"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig enthält die Konfiguration für die Home Assistant Integration
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days" validate:"min=0"`
}

// SchedulerConfig enthält die Cron-Ausdrücke der Hintergrundjobs
type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DailyReportCron string `mapstructure:"daily_report_cron"`
	CleanupCron     string `mapstructure:"cleanup_cron"`
}

// Load lädt die Konfiguration aus .env, Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, failure.New(failure.ConfigInvalid, "config.Load", fmt.Errorf("failed to read config file: %w", err))
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, failure.New(failure.ConfigInvalid, "config.Load", fmt.Errorf("failed to unmarshal config: %w", err))
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Default liefert die Standardkonfiguration ohne Datei und Umgebung
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config does not unmarshal: %v", err))
	}
	return &cfg
}

// Validate prüft die Struct-Tags und liefert ConfigInvalid mit allen Verstößen
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return failure.Errorf(failure.ConfigInvalid, "config.Validate", "%s", strings.Join(msgs, "; "))
		}
		return failure.New(failure.ConfigInvalid, "config.Validate", err)
	}
	return nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.timezone", "")
	v.SetDefault("server.session_secret", "change-me-face-attendance")
	v.SetDefault("server.default_language", "en")
	v.SetDefault("server.preview_frames", 30)

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "./data/logs/face-attendance.log")

	// DB-Standardwerte
	v.SetDefault("db.store_url", "./data/attendance.db")
	v.SetDefault("db.max_open_conns", 10)

	// Kamera
	v.SetDefault("camera.id", 0)
	v.SetDefault("camera.width", 0)
	v.SetDefault("camera.height", 0)
	v.SetDefault("camera.max_bad_frames", 30)

	// Pipeline
	v.SetDefault("pipeline.process_every_n_frames", 3)
	v.SetDefault("pipeline.confirm_window", 5)
	v.SetDefault("pipeline.expire_ms", 1500)
	v.SetDefault("pipeline.track_iou", 0.3)
	v.SetDefault("pipeline.observe_interval_seconds", 5)
	v.SetDefault("pipeline.queue_capacity", 64)
	v.SetDefault("pipeline.drain_timeout_seconds", 2)
	v.SetDefault("pipeline.max_retries", 5)
	v.SetDefault("pipeline.retry_base_ms", 100)
	v.SetDefault("pipeline.preview_queue", 2)

	// Gesichtsdetektor
	v.SetDefault("detector.min_face_px", 40)
	v.SetDefault("detector.collapse_iou", 0.7)
	v.SetDefault("detector.confidence", 0.5)
	v.SetDefault("detector.model_path", filepath.Join("models", "opencv", "res10_300x300_ssd_iter_140000.caffemodel"))
	v.SetDefault("detector.config_path", filepath.Join("models", "opencv", "deploy.prototxt"))
	v.SetDefault("detector.cascade_path", filepath.Join("models", "opencv", "haarcascade_frontalface_default.xml"))
	v.SetDefault("detector.use_gpu", false)

	// Erkennung
	v.SetDefault("recognition.embedder", "descriptor")
	v.SetDefault("recognition.tolerance", 0.6)
	v.SetDefault("recognition.confidence_threshold", 0.7)
	v.SetDefault("recognition.gallery_file", "./data/gallery.frg")
	v.SetDefault("recognition.descriptor_model_dir", filepath.Join("models", "dlib"))
	v.SetDefault("recognition.classifier_model", filepath.Join("models", "classifier", "model.onnx"))
	v.SetDefault("recognition.classifier_labels", filepath.Join("models", "classifier", "labels.txt"))
	v.SetDefault("recognition.classifier_input_size", 224)
	v.SetDefault("recognition.crop_margin", 0.2)

	// Anwesenheit
	v.SetDefault("attendance.min_record_confidence", 0.75)
	v.SetDefault("attendance.min_session_seconds", 60)
	v.SetDefault("attendance.work_start_hour", 8)
	v.SetDefault("attendance.work_start_minute", 0)
	v.SetDefault("attendance.late_grace_minutes", 0)
	v.SetDefault("attendance.save_snapshots", true)
	v.SetDefault("attendance.snapshot_dir", "./data/snapshots")
	v.SetDefault("attendance.snapshot_format", "jpg")
	v.SetDefault("attendance.snapshot_quality", 85)

	// Berichte
	v.SetDefault("report.output_dir", "./data/reports")
	v.SetDefault("report.format", "csv")

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "face-attendance")
	v.SetDefault("mqtt.topic_prefix", "face-attendance")
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")

	// Cleanup-Standardwerte
	v.SetDefault("cleanup.retention_days", 30)

	// Scheduler
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.daily_report_cron", "5 0 * * *")
	v.SetDefault("scheduler.cleanup_cron", "30 3 * * *")
}

// IsPostgres meldet, ob die Store-URL auf PostgreSQL zeigt
func (c DBConfig) IsPostgres() bool {
	u := strings.ToLower(c.StoreURL)
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	dirs := []string{cfg.Server.DataDir, cfg.Report.OutputDir}
	if cfg.Attendance.SaveSnapshots && cfg.Attendance.SnapshotDir != "" {
		dirs = append(dirs, cfg.Attendance.SnapshotDir)
	}
	if cfg.Log.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.Log.File))
	}
	if !cfg.DB.IsPostgres() && cfg.DB.StoreURL != ":memory:" {
		dirs = append(dirs, filepath.Dir(cfg.DB.StoreURL))
	}
	dirs = append(dirs, filepath.Dir(cfg.Recognition.GalleryFile))

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
