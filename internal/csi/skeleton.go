package csi

// NumKeypoints is the size of the COCO body keypoint set.
const NumKeypoints = 17

// KeypointNames lists the COCO keypoints in output order.
var KeypointNames = [NumKeypoints]string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
}

// SkeletonEdges connects keypoint indices for renderers.
var SkeletonEdges = [][2]int{
	{0, 1}, {0, 2}, {1, 3}, {2, 4},
	{5, 6}, {5, 7}, {7, 9}, {6, 8}, {8, 10},
	{5, 11}, {6, 12}, {11, 12},
	{11, 13}, {13, 15}, {12, 14}, {14, 16},
}

// StandingPose is a neutral standing skeleton centred on the origin with
// the feet on the floor (Z up, metres).
var StandingPose = [NumKeypoints]Keypoint{
	{0, 0.08, 1.62},     // nose
	{-0.03, 0.06, 1.66}, // left_eye
	{0.03, 0.06, 1.66},  // right_eye
	{-0.08, 0.0, 1.64},  // left_ear
	{0.08, 0.0, 1.64},   // right_ear
	{-0.19, 0, 1.42},    // left_shoulder
	{0.19, 0, 1.42},     // right_shoulder
	{-0.24, 0, 1.13},    // left_elbow
	{0.24, 0, 1.13},     // right_elbow
	{-0.26, 0.02, 0.86}, // left_wrist
	{0.26, 0.02, 0.86},  // right_wrist
	{-0.11, 0, 0.92},    // left_hip
	{0.11, 0, 0.92},     // right_hip
	{-0.12, 0.01, 0.5},  // left_knee
	{0.12, 0.01, 0.5},   // right_knee
	{-0.12, 0, 0.08},    // left_ankle
	{0.12, 0, 0.08},     // right_ankle
}
