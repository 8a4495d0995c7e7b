package retarget

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-avatarcam/pkg/inference"
	"gocv.io/x/gocv"
)

func TestLibrary_Builtins(t *testing.T) {
	lib, err := NewLibrary()
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}

	for _, name := range []string{"girl", "boy", "abstract", "blathers", "tom-nook"} {
		tmpl, err := lib.Get(name)
		if err != nil {
			t.Errorf("Get(%q): %v", name, err)
			continue
		}
		if !tmpl.Builtin {
			t.Errorf("%s should be marked builtin", name)
		}
	}

	if _, err := lib.Get("pikachu"); !errors.Is(err, ErrUnknownAvatar) {
		t.Errorf("Get(unknown) = %v, want ErrUnknownAvatar", err)
	}

	names := lib.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Names not sorted: %v", names)
		}
	}
}

func TestParseTemplate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			name: "minimal",
			doc: `name: mono
colors: {skin: "#fff", hair: "#000", body: "#888", limbs: "#fff", outline: "#000", eyes: "#000", mouth: "#f00"}`,
		},
		{
			name:    "missing name",
			doc:     `colors: {skin: "#fff"}`,
			wantErr: true,
		},
		{
			name: "bad colour",
			doc: `name: broken
colors: {skin: "peach", hair: "#000", body: "#888", limbs: "#fff", outline: "#000", eyes: "#000", mouth: "#f00"}`,
			wantErr: true,
		},
		{
			name:    "not yaml",
			doc:     "name: [unterminated",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tmpl, err := ParseTemplate([]byte(tc.doc))
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tmpl.Style.LineWidth <= 0 || tmpl.Style.HeadScale <= 0 {
				t.Errorf("style defaults not applied: %+v", tmpl.Style)
			}
		})
	}
}

func TestLibrary_LoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `name: custom
colors: {skin: "#fff", hair: "#000", body: "#888", limbs: "#fff", outline: "#000", eyes: "#000", mouth: "#f00"}`
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := NewLibrary()
	if err != nil {
		t.Fatal(err)
	}
	n, err := lib.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 1 {
		t.Errorf("loaded %d templates, want 1", n)
	}
	tmpl, err := lib.Get("custom")
	if err != nil {
		t.Fatal(err)
	}
	if tmpl.Builtin {
		t.Error("loaded template should not be builtin")
	}
}

func TestToFaceFrame(t *testing.T) {
	if ToFaceFrame(nil) != nil {
		t.Error("nil set should give nil frame")
	}

	set := &inference.FaceLandmarkSet{
		ScaledMesh: []inference.Point3{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: 5, Y: 6}},
		Parts:      map[string]int{"a": 0, "c": 2, "out-of-range": 9},
	}
	ff := ToFaceFrame(set)
	if len(ff) != 2 {
		t.Fatalf("got %d parts, want 2", len(ff))
	}
	if ff["c"] != (Point{X: 5, Y: 6}) {
		t.Errorf("c = %+v", ff["c"])
	}
}

func TestSkeleton_UpdateKeepsConfidentJoints(t *testing.T) {
	s := NewSkeleton(0.1)

	s.Update(&inference.Pose{Score: 0.8, Keypoints: []inference.Keypoint{
		{Part: inference.LeftWrist, X: 10, Y: 20, Score: 0.9},
	}}, nil)
	s.Update(&inference.Pose{Score: 0.8, Keypoints: []inference.Keypoint{
		{Part: inference.LeftWrist, X: 99, Y: 99, Score: 0.05},
	}}, nil)

	p, ok := s.Joint(inference.LeftWrist)
	if !ok {
		t.Fatal("left wrist missing")
	}
	if p.X != 10 || p.Y != 20 {
		t.Errorf("low-confidence keypoint moved the joint to %+v", p)
	}
	if s.Updates() != 2 {
		t.Errorf("Updates = %d, want 2", s.Updates())
	}
}

func TestSkeleton_Render(t *testing.T) {
	lib, err := NewLibrary()
	if err != nil {
		t.Fatal(err)
	}
	tmpl, _ := lib.Get("boy")

	s := NewSkeleton(0.1)
	pose := inference.UniformPose(0.9, 0, 0)
	layout := map[string][2]float64{
		inference.Nose:          {160, 40},
		inference.LeftEye:       {170, 35},
		inference.RightEye:      {150, 35},
		inference.LeftShoulder:  {190, 80},
		inference.RightShoulder: {130, 80},
		inference.LeftHip:       {180, 150},
		inference.RightHip:      {140, 150},
		inference.LeftElbow:     {210, 110},
		inference.LeftWrist:     {220, 140},
	}
	for i, kp := range pose.Keypoints {
		if xy, ok := layout[kp.Part]; ok {
			pose.Keypoints[i].X, pose.Keypoints[i].Y = xy[0], xy[1]
		}
	}
	s.Update(&pose, nil)

	dst := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 360, 640, gocv.MatTypeCV8UC4)
	defer dst.Close()

	s.Render(&dst, 320, 180)
	blank := firstChannel(dst)
	drawn := gocv.CountNonZero(blank)
	blank.Close()
	if drawn != 0 {
		t.Fatal("unbound skeleton should not draw")
	}

	if err := s.Bind(tmpl); err != nil {
		t.Fatal(err)
	}
	s.Render(&dst, 320, 180)

	ch := firstChannel(dst)
	defer ch.Close()
	if gocv.CountNonZero(ch) == 0 {
		t.Error("bound skeleton should draw pixels")
	}
}

func firstChannel(m gocv.Mat) gocv.Mat {
	chans := gocv.Split(m)
	for _, c := range chans[1:] {
		c.Close()
	}
	return chans[0]
}
