package detect

import (
	"fmt"
	"image"
	"path/filepath"

	"gocv.io/x/gocv"
)

// dnnInputSize is the fixed network input for SSD MobileNet.
const dnnInputSize = 300

// DNNDetector runs an SSD-style frozen graph through OpenCV's DNN module.
// The network emits rows of 7 floats: [batch, classID, confidence, x1, y1,
// x2, y2] with coordinates normalized to the input image.
type DNNDetector struct {
	net       gocv.Net
	modelName string
}

// NewDNNDetector loads the frozen graph and its config. The model is loaded
// once here, not per request.
func NewDNNDetector(modelPath, configPath string) (*DNNDetector, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model from %s", modelPath)
	}
	return &DNNDetector{
		net:       net,
		modelName: filepath.Base(modelPath),
	}, nil
}

func (d *DNNDetector) Infer(img gocv.Mat, threshold float32) ([]RawBox, error) {
	if d.net.Empty() {
		return nil, fmt.Errorf("detection model not loaded")
	}

	blob := gocv.BlobFromImage(img, 1.0/127.5, image.Pt(dnnInputSize, dnnInputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	width := float32(img.Cols())
	height := float32(img.Rows())

	var boxes []RawBox
	rows := out.Total() / 7
	for i := 0; i < rows; i++ {
		idx := i * 7
		confidence := out.GetFloatAt(0, idx+2)
		if confidence < threshold {
			continue
		}
		boxes = append(boxes, RawBox{
			X1:         out.GetFloatAt(0, idx+3) * width,
			Y1:         out.GetFloatAt(0, idx+4) * height,
			X2:         out.GetFloatAt(0, idx+5) * width,
			Y2:         out.GetFloatAt(0, idx+6) * height,
			Confidence: confidence,
			ClassID:    int(out.GetFloatAt(0, idx+1)),
		})
	}
	return boxes, nil
}

func (d *DNNDetector) ClassName(id int) string {
	if name, ok := cocoClasses[id]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", id)
}

func (d *DNNDetector) ModelName() string {
	return d.modelName
}

// Close releases the underlying network.
func (d *DNNDetector) Close() error {
	return d.net.Close()
}

// cocoClasses maps SSD MobileNet COCO class ids to labels. The id space has
// gaps; unknown ids fall back to a numeric label.
var cocoClasses = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	5:  "airplane",
	6:  "bus",
	7:  "train",
	8:  "truck",
	9:  "boat",
	10: "traffic light",
	11: "fire hydrant",
	13: "stop sign",
	14: "parking meter",
	15: "bench",
	16: "bird",
	17: "cat",
	18: "dog",
	19: "horse",
	20: "sheep",
	21: "cow",
	22: "elephant",
	23: "bear",
	24: "zebra",
	25: "giraffe",
	27: "backpack",
	28: "umbrella",
	31: "handbag",
	32: "tie",
	33: "suitcase",
	34: "frisbee",
	35: "skis",
	36: "snowboard",
	37: "sports ball",
	38: "kite",
	39: "baseball bat",
	40: "baseball glove",
	41: "skateboard",
	42: "surfboard",
	43: "tennis racket",
	44: "bottle",
	46: "wine glass",
	47: "cup",
	48: "fork",
	49: "knife",
	50: "spoon",
	51: "bowl",
	52: "banana",
	53: "apple",
	54: "sandwich",
	55: "orange",
	56: "broccoli",
	57: "carrot",
	58: "hot dog",
	59: "pizza",
	60: "donut",
	61: "cake",
	62: "chair",
	63: "couch",
	64: "potted plant",
	65: "bed",
	67: "dining table",
	70: "toilet",
	72: "tv",
	73: "laptop",
	74: "mouse",
	75: "remote",
	76: "keyboard",
	77: "cell phone",
	78: "microwave",
	79: "oven",
	80: "toaster",
	81: "sink",
	82: "refrigerator",
	84: "book",
	85: "clock",
	86: "vase",
	87: "scissors",
	88: "teddy bear",
	89: "hair drier",
	90: "toothbrush",
}
