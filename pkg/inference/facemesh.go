package inference

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"
	"sync"

	"github.com/teslashibe/go-avatarcam/internal/log"
	"github.com/teslashibe/go-avatarcam/pkg/debug"
	"github.com/teslashibe/go-avatarcam/pkg/frame"
	"gocv.io/x/gocv"
)

// FaceMeshConfig configures the face backend.
type FaceMeshConfig struct {
	DetectorPath     string  // YuNet ONNX model
	MeshPath         string  // optional 468-point mesh ONNX model; empty = YuNet landmarks only
	MeshInput        int     // mesh model input resolution
	ConfidenceThresh float64 // minimum YuNet face score
	CropPadding      float64 // box growth before cropping for the mesh model
	MaxFaces         int
}

// DefaultFaceMeshConfig returns production defaults.
func DefaultFaceMeshConfig() FaceMeshConfig {
	return FaceMeshConfig{
		DetectorPath:     "models/face_detection_yunet.onnx",
		MeshInput:        192,
		ConfidenceThresh: 0.6,
		CropPadding:      0.25,
		MaxFaces:         1,
	}
}

// FaceMesh detects faces with YuNet and optionally refines each into a dense mesh.
type FaceMesh struct {
	detector gocv.FaceDetectorYN
	mesh     *gocv.Net
	config   FaceMeshConfig
	mu       sync.Mutex // Protects inference
}

// NewFaceMesh loads the detector and, if configured, the mesh model.
func NewFaceMesh(cfg FaceMeshConfig) (*FaceMesh, error) {
	if _, err := os.Stat(cfg.DetectorPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.DetectorPath)
	}

	// Input size is updated per frame in EstimateFaces.
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.DetectorPath,
		"",
		image.Pt(320, 320),
		float32(cfg.ConfidenceThresh),
		0.3,  // NMS threshold
		5000, // Top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	fm := &FaceMesh{detector: detector, config: cfg}

	if cfg.MeshPath != "" {
		if _, err := os.Stat(cfg.MeshPath); os.IsNotExist(err) {
			detector.Close()
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.MeshPath)
		}
		net := gocv.ReadNetFromONNX(cfg.MeshPath)
		if net.Empty() {
			detector.Close()
			return nil, fmt.Errorf("%w: %s", ErrModelLoad, cfg.MeshPath)
		}
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		fm.mesh = &net
	}

	log.Component("inference").Info("face model loaded",
		"detector", cfg.DetectorPath, "mesh", cfg.MeshPath != "")
	return fm, nil
}

// HasMesh reports whether dense mesh refinement is enabled.
func (m *FaceMesh) HasMesh() bool {
	return m.mesh != nil
}

// EstimateFaces returns detected faces, best score first.
func (m *FaceMesh) EstimateFaces(ctx context.Context, f *frame.Video) ([]FaceLandmarkSet, error) {
	if f.Empty() {
		return nil, ErrEmptyFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.detector.SetInputSize(image.Pt(f.Mat.Cols(), f.Mat.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	m.detector.Detect(f.Mat, &faces)

	sets := make([]FaceLandmarkSet, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		// YuNet rows: x, y, w, h, 5 landmark (x, y) pairs, score
		box := image.Rect(
			int(faces.GetFloatAt(r, 0)),
			int(faces.GetFloatAt(r, 1)),
			int(faces.GetFloatAt(r, 0)+faces.GetFloatAt(r, 2)),
			int(faces.GetFloatAt(r, 1)+faces.GetFloatAt(r, 3)),
		)
		landmarks := make([]Point3, 5)
		for i := range landmarks {
			landmarks[i] = Point3{
				X: float64(faces.GetFloatAt(r, 4+2*i)),
				Y: float64(faces.GetFloatAt(r, 5+2*i)),
			}
		}
		sets = append(sets, FaceLandmarkSet{
			Score:      float64(faces.GetFloatAt(r, 14)),
			Box:        box,
			ScaledMesh: landmarks,
			Parts:      YuNetParts,
		})
	}

	sort.SliceStable(sets, func(i, j int) bool { return sets[i].Score > sets[j].Score })
	if m.config.MaxFaces > 0 && len(sets) > m.config.MaxFaces {
		sets = sets[:m.config.MaxFaces]
	}

	if m.mesh != nil {
		for i := range sets {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			mesh, err := m.refine(f.Mat, sets[i].Box)
			if err != nil {
				debug.Log("face mesh refine failed, keeping landmarks", "error", err)
				continue
			}
			sets[i].ScaledMesh = mesh
			sets[i].Parts = MeshParts
		}
	}

	if len(sets) > 0 {
		debug.FrameLog("faces detected", "count", len(sets))
	}
	return sets, nil
}

// refine runs the mesh model on a padded square crop around box.
func (m *FaceMesh) refine(img gocv.Mat, box image.Rectangle) ([]Point3, error) {
	crop := paddedSquare(box, m.config.CropPadding, image.Rect(0, 0, img.Cols(), img.Rows()))
	if crop.Empty() {
		return nil, fmt.Errorf("face box %v outside frame", box)
	}

	region := img.Region(crop)
	defer region.Close()

	size := m.config.MeshInput
	blob := gocv.BlobFromImage(region, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.mesh.SetInput(blob, "")
	out := m.mesh.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	if len(data) < MeshSize*3 {
		return nil, fmt.Errorf("%w: %d mesh values", ErrUnexpectedOutput, len(data))
	}

	sx := float64(crop.Dx()) / float64(size)
	sy := float64(crop.Dy()) / float64(size)
	mesh := make([]Point3, MeshSize)
	for i := range mesh {
		mesh[i] = Point3{
			X: float64(crop.Min.X) + float64(data[3*i])*sx,
			Y: float64(crop.Min.Y) + float64(data[3*i+1])*sy,
			Z: float64(data[3*i+2]) * sx,
		}
	}
	return mesh, nil
}

// paddedSquare grows box by pad on every side, makes it square around its
// centre and clips it to bounds.
func paddedSquare(box image.Rectangle, pad float64, bounds image.Rectangle) image.Rectangle {
	side := box.Dx()
	if box.Dy() > side {
		side = box.Dy()
	}
	side = int(float64(side) * (1 + 2*pad))
	cx := (box.Min.X + box.Max.X) / 2
	cy := (box.Min.Y + box.Max.Y) / 2
	sq := image.Rect(cx-side/2, cy-side/2, cx-side/2+side, cy-side/2+side)
	return sq.Intersect(bounds)
}

// Close releases the models.
func (m *FaceMesh) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detector.Close()
	if m.mesh != nil {
		return m.mesh.Close()
	}
	return nil
}
