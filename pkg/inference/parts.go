package inference

import "strings"

// Body part names, in PoseNet output channel order.
const (
	Nose          = "nose"
	LeftEye       = "leftEye"
	RightEye      = "rightEye"
	LeftEar       = "leftEar"
	RightEar      = "rightEar"
	LeftShoulder  = "leftShoulder"
	RightShoulder = "rightShoulder"
	LeftElbow     = "leftElbow"
	RightElbow    = "rightElbow"
	LeftWrist     = "leftWrist"
	RightWrist    = "rightWrist"
	LeftHip       = "leftHip"
	RightHip      = "rightHip"
	LeftKnee      = "leftKnee"
	RightKnee     = "rightKnee"
	LeftAnkle     = "leftAnkle"
	RightAnkle    = "rightAnkle"
)

// PartNames lists body parts in model channel order.
var PartNames = []string{
	Nose, LeftEye, RightEye, LeftEar, RightEar,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow, LeftWrist, RightWrist,
	LeftHip, RightHip, LeftKnee, RightKnee, LeftAnkle, RightAnkle,
}

// NumParts is the number of body keypoints per pose.
const NumParts = 17

// AdjacentParts are the bone pairs drawn by the detection overlay.
var AdjacentParts = [][2]string{
	{LeftHip, LeftShoulder}, {LeftElbow, LeftShoulder}, {LeftElbow, LeftWrist},
	{LeftHip, LeftKnee}, {LeftKnee, LeftAnkle},
	{RightHip, RightShoulder}, {RightElbow, RightShoulder}, {RightElbow, RightWrist},
	{RightHip, RightKnee}, {RightKnee, RightAnkle},
	{LeftShoulder, RightShoulder}, {LeftHip, RightHip},
}

// Face part names shared by both face backends.
const (
	FaceNoseTip       = "noseTip"
	FaceRightEye      = "rightEye"
	FaceLeftEye       = "leftEye"
	FaceMouthRight    = "mouthRight"
	FaceMouthLeft     = "mouthLeft"
	FaceChin          = "chin"
	FaceForehead      = "forehead"
	FaceRightEyeOuter = "rightEyeOuter"
	FaceRightEyeInner = "rightEyeInner"
	FaceLeftEyeInner  = "leftEyeInner"
	FaceLeftEyeOuter  = "leftEyeOuter"
	FaceUpperLip      = "upperLip"
	FaceLowerLip      = "lowerLip"
	FaceRightCheek    = "rightCheek"
	FaceLeftCheek     = "leftCheek"
)

// MeshParts indexes the 468-vertex face mesh.
var MeshParts = map[string]int{
	FaceNoseTip:       1,
	FaceChin:          152,
	FaceForehead:      10,
	FaceRightEyeOuter: 33,
	FaceRightEyeInner: 133,
	FaceLeftEyeInner:  362,
	FaceLeftEyeOuter:  263,
	FaceMouthRight:    61,
	FaceMouthLeft:     291,
	FaceUpperLip:      13,
	FaceLowerLip:      14,
	FaceRightCheek:    234,
	FaceLeftCheek:     454,
}

// MeshSize is the vertex count of the dense face mesh.
const MeshSize = 468

// YuNetParts indexes the five landmarks YuNet returns with each face box.
var YuNetParts = map[string]int{
	FaceRightEye:   0,
	FaceLeftEye:    1,
	FaceNoseTip:    2,
	FaceMouthRight: 3,
	FaceMouthLeft:  4,
}

// FlipPose swaps left and right part names. With a mirrored capture the
// person's left side appears on the image right; flipping names restores
// anatomical sides for retargeting.
func FlipPose(p Pose) Pose {
	out := p.Clone()
	for i := range out.Keypoints {
		out.Keypoints[i].Part = flipPartName(out.Keypoints[i].Part)
	}
	return out
}

func flipPartName(part string) string {
	switch {
	case strings.HasPrefix(part, "left"):
		return "right" + strings.TrimPrefix(part, "left")
	case strings.HasPrefix(part, "right"):
		return "left" + strings.TrimPrefix(part, "right")
	}
	return part
}
