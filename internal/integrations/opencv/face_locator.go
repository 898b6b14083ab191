package opencv

import (
	"fmt"
	"image"
	"os"
	"runtime"
	"strings"
	"sync"

	"face-attendance-go/config"
	"face-attendance-go/internal/core/failure"
	"face-attendance-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Detektionsmethoden für Gesichter
const (
	MethodDNN  = "dnn"  // res10 SSD Gesichtsdetektor (genauer, kann GPU nutzen)
	MethodHaar = "haar" // Haar-Kaskade (CPU, Fallback)
)

// Eingabegröße und Mittelwerte des res10-Modells
const (
	DefaultDNNWidth  = 300
	DefaultDNNHeight = 300
)

var res10Mean = gocv.NewScalar(104.0, 177.0, 123.0, 0)

// Haar liefert keine Konfidenz
const haarConfidence = 0.8

// FaceLocator findet Gesichter mit dem res10 SSD oder, falls die Modelldateien
// fehlen, mit einer Haar-Kaskade.
type FaceLocator struct {
	cfg     config.DetectorConfig
	method  string
	net     gocv.Net
	cascade gocv.CascadeClassifier
	backend gocv.NetBackendType
	target  gocv.NetTargetType
	mu      sync.Mutex
	closed  bool
}

// NewFaceLocator lädt den Detektor. Fehlen sowohl DNN- als auch Kaskadendateien,
// wird ModelUnavailable zurückgegeben.
func NewFaceLocator(cfg config.DetectorConfig) (*FaceLocator, error) {
	if cfg.MinFacePx <= 0 {
		cfg.MinFacePx = vision.DefaultMinFacePx
	}
	if cfg.CollapseIoU <= 0 {
		cfg.CollapseIoU = vision.DefaultCollapseIoU
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.5
	}

	fl := &FaceLocator{cfg: cfg}
	fl.backend, fl.target = getGPUBackend(cfg.UseGPU)

	if fileExists(cfg.ModelPath) && fileExists(cfg.ConfigPath) {
		net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
		if net.Empty() {
			return nil, failure.Errorf(failure.ModelUnavailable, "opencv.NewFaceLocator", "could not load DNN model %s", cfg.ModelPath)
		}
		if cfg.UseGPU {
			if err := net.SetPreferableBackend(fl.backend); err != nil {
				log.WithError(err).Warn("Failed to set DNN backend, using default")
			}
			if err := net.SetPreferableTarget(fl.target); err != nil {
				log.WithError(err).Warn("Failed to set DNN target, using CPU")
			}
		}
		fl.net = net
		fl.method = MethodDNN
		log.Infof("Face detector: res10 SSD loaded (backend %d, target %d)", fl.backend, fl.target)
		return fl, nil
	}

	log.Warnf("DNN face model not found: %s or %s", cfg.ModelPath, cfg.ConfigPath)
	if !fileExists(cfg.CascadePath) {
		return nil, failure.Errorf(failure.ModelUnavailable, "opencv.NewFaceLocator",
			"neither DNN model nor cascade %s found", cfg.CascadePath)
	}
	log.Warn("Falling back to Haar cascade face detector")
	fl.cascade = gocv.NewCascadeClassifier()
	if !fl.cascade.Load(cfg.CascadePath) {
		fl.cascade.Close()
		return nil, failure.Errorf(failure.ModelUnavailable, "opencv.NewFaceLocator", "could not load cascade %s", cfg.CascadePath)
	}
	fl.method = MethodHaar
	return fl, nil
}

// Method liefert die aktive Detektionsmethode
func (fl *FaceLocator) Method() string {
	return fl.method
}

// Locate liefert die normalisierten Gesichtsregionen eines Frames. Null Gesichter sind kein Fehler.
func (fl *FaceLocator) Locate(frame vision.Frame) ([]vision.Region, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		return nil, failure.Errorf(failure.ModelUnavailable, "opencv.Locate", "face locator closed")
	}

	img, err := frameToMat(frame)
	if err != nil {
		return nil, failure.New(failure.BadFrame, "opencv.Locate", err)
	}
	defer img.Close()

	var regions []vision.Region
	if fl.method == MethodDNN {
		regions = fl.detectDNN(img)
	} else {
		regions = fl.detectHaar(img)
	}

	return vision.Normalize(regions, frame.Width, frame.Height, fl.cfg.MinFacePx, fl.cfg.CollapseIoU), nil
}

func (fl *FaceLocator) detectDNN(img gocv.Mat) []vision.Region {
	blob := gocv.BlobFromImage(img, 1.0, image.Pt(DefaultDNNWidth, DefaultDNNHeight), res10Mean, false, false)
	defer blob.Close()

	fl.net.SetInput(blob, "")
	prob := fl.net.Forward("")
	defer prob.Close()

	// Ausgabe [1,1,N,7]: [img_id, class_id, confidence, left, top, right, bottom]
	detections := prob.Reshape(1, prob.Total()/7)
	defer detections.Close()

	width, height := float32(img.Cols()), float32(img.Rows())
	var regions []vision.Region
	for i := 0; i < detections.Rows(); i++ {
		confidence := float64(detections.GetFloatAt(i, 2))
		if confidence < fl.cfg.Confidence {
			continue
		}
		rect := image.Rect(
			int(detections.GetFloatAt(i, 3)*width),
			int(detections.GetFloatAt(i, 4)*height),
			int(detections.GetFloatAt(i, 5)*width),
			int(detections.GetFloatAt(i, 6)*height),
		)
		regions = append(regions, vision.FromRect(rect, confidence))
	}
	return regions
}

func (fl *FaceLocator) detectHaar(img gocv.Mat) []vision.Region {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	minSize := image.Pt(fl.cfg.MinFacePx, fl.cfg.MinFacePx)
	rects := fl.cascade.DetectMultiScaleWithParams(gray, 1.1, 5, 0, minSize, image.Point{})
	regions := make([]vision.Region, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, vision.FromRect(r, haarConfidence))
	}
	return regions
}

// Close gibt Netz bzw. Kaskade frei
func (fl *FaceLocator) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		return nil
	}
	fl.closed = true
	switch fl.method {
	case MethodDNN:
		return fl.net.Close()
	case MethodHaar:
		return fl.cascade.Close()
	}
	return nil
}

// getGPUBackend wählt Backend und Target für gocv DNN anhand der gefundenen Hardware
func getGPUBackend(useGPU bool) (gocv.NetBackendType, gocv.NetTargetType) {
	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	if !useGPU {
		return backend, target
	}

	if haveNvidiaGPU() {
		log.Info("NVIDIA GPU detected, using CUDA backend")
		return gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	if haveAMDGPU() {
		log.Info("AMD GPU detected, using OpenCV backend with OpenCL target")
		return gocv.NetBackendOpenCV, gocv.NetTargetFP16
	}
	if runtime.GOOS == "darwin" && strings.HasPrefix(runtime.GOARCH, "arm") {
		// Metal wird von OpenCV DNN nicht unterstützt
		log.Info("Apple Silicon detected, using optimised CPU path")
		return backend, target
	}

	log.Warn("GPU requested but no supported GPU found, using CPU")
	return backend, target
}

// haveNvidiaGPU prüft, ob eine NVIDIA-GPU verfügbar ist
func haveNvidiaGPU() bool {
	if os.Getenv("NVIDIA_VISIBLE_DEVICES") != "" || os.Getenv("NVIDIA_DRIVER_CAPABILITIES") != "" {
		return true
	}

	paths := []string{
		"/usr/local/cuda/lib64/libcudart.so",
		"/usr/lib/x86_64-linux-gnu/libcuda.so",
		"/usr/lib/libcuda.so",
		"/usr/bin/nvidia-smi",
		"/usr/local/bin/nvidia-smi",
	}
	if runtime.GOOS == "windows" {
		paths = []string{
			"C:\\Program Files\\NVIDIA Corporation\\NVSMI\\nvidia-smi.exe",
			"C:\\Windows\\System32\\nvidia-smi.exe",
		}
	}
	for _, path := range paths {
		if fileExists(path) {
			log.Debugf("Found NVIDIA runtime at %s", path)
			return true
		}
	}
	return false
}

// haveAMDGPU prüft, ob eine AMD-GPU verfügbar ist (nur Linux)
func haveAMDGPU() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	return fileExists("/dev/kfd")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func (fl *FaceLocator) String() string {
	return fmt.Sprintf("FaceLocator(%s)", fl.method)
}
